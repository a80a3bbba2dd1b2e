package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tick metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amm_ticks_total",
			Help: "Total number of completed active memory manager ticks",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amm_tick_duration_seconds",
			Help:    "Time taken to run one active memory manager tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	SkippedTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amm_skipped_ticks_total",
			Help: "Total number of ticks skipped because the previous tick was still running",
		},
	)

	// Suggestion/decision metrics
	SuggestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amm_suggestions_accepted_total",
			Help: "Total number of suggestions accepted by the arbiter, by op",
		},
		[]string{"op"},
	)

	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amm_suggestions_rejected_total",
			Help: "Total number of suggestions rejected by the arbiter, by op and reason",
		},
		[]string{"op", "reason"},
	)

	PolicyPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amm_policy_panics_total",
			Help: "Total number of policy Run invocations that panicked",
		},
		[]string{"policy"},
	)

	// Dispatch metrics
	DispatchRPCsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amm_dispatch_rpcs_total",
			Help: "Total number of worker RPCs dispatched at end of tick, by kind and status",
		},
		[]string{"kind", "status"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amm_dispatch_duration_seconds",
			Help:    "Time taken for a single worker RPC dispatched at end of tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Cluster gauges
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amm_workers_total",
			Help: "Total number of workers known to the manager, by status",
		},
		[]string{"status"},
	)

	TasksInMemoryTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amm_tasks_in_memory_total",
			Help: "Total number of tasks currently in the memory state",
		},
	)

	RetiringWorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amm_retiring_workers_total",
			Help: "Total number of workers currently being drained by RetireWorkers",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amm_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amm_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amm_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Control API metrics
	ControlAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amm_control_api_requests_total",
			Help: "Total number of control API requests by method and status",
		},
		[]string{"method", "status"},
	)

	ControlAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amm_control_api_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(SkippedTicksTotal)
	prometheus.MustRegister(SuggestionsTotal)
	prometheus.MustRegister(RejectionsTotal)
	prometheus.MustRegister(PolicyPanicsTotal)
	prometheus.MustRegister(DispatchRPCsTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(TasksInMemoryTotal)
	prometheus.MustRegister(RetiringWorkersTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(ControlAPIRequestsTotal)
	prometheus.MustRegister(ControlAPIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
