// Package amm wires the policy, arbiter and state packages together into
// the running active memory manager extension: a ticker-driven loop that
// lists tasks and workers, runs every registered policy, arbitrates their
// suggestions, and dispatches the resulting transaction to workers.
package amm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/amm/pkg/arbiter"
	"github.com/cuemby/amm/pkg/events"
	"github.com/cuemby/amm/pkg/log"
	"github.com/cuemby/amm/pkg/metrics"
	"github.com/cuemby/amm/pkg/policy"
	"github.com/cuemby/amm/pkg/state"
	"github.com/cuemby/amm/pkg/types"
	"github.com/rs/zerolog"
)

// Dispatcher delivers the outcome of a tick's transactions to workers. One
// call per worker per tick per direction: keys are batched so a worker that
// is both gaining and losing several replicas this tick sees two RPCs, not
// one per key.
type Dispatcher interface {
	AcquireReplicas(ctx context.Context, worker string, keys []string) error
	RemoveReplicas(ctx context.Context, worker string, keys []string) error
	CloseWorker(ctx context.Context, worker string) error
}

// Manager is the active memory manager extension: it owns the tick loop and
// the registered policy set.
type Manager struct {
	store      state.Store
	dispatcher Dispatcher
	broker     *events.Broker
	logger     zerolog.Logger
	interval   time.Duration

	runningMu sync.Mutex
	running   bool
	stopCh    chan struct{}

	// tickMu prevents a slow tick from overlapping the next one; RunOnce
	// skips (rather than queues) when a tick is already in flight.
	tickMu sync.Mutex

	policiesMu sync.RWMutex
	policies   []policy.Policy
}

// NewManager builds a Manager. It does not start the tick loop — call Start.
func NewManager(store state.Store, dispatcher Dispatcher, broker *events.Broker, interval time.Duration) *Manager {
	return &Manager{
		store:      store,
		dispatcher: dispatcher,
		broker:     broker,
		logger:     log.WithComponent("amm"),
		interval:   interval,
	}
}

// Start begins the tick loop if it is not already running.
func (m *Manager) Start() {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	go m.run(m.stopCh)
	m.logger.Info().Dur("interval", m.interval).Msg("active memory manager started")
}

// Stop halts the tick loop. It is safe to call Stop when already stopped.
func (m *Manager) Stop() {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
	m.logger.Info().Msg("active memory manager stopped")
}

// Running reports whether the tick loop is currently active.
func (m *Manager) Running() bool {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	return m.running
}

func (m *Manager) run(stopCh chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RunOnce(context.Background()); err != nil {
				m.logger.Error().Err(err).Msg("tick failed")
			}
		case <-stopCh:
			return
		}
	}
}

// AddPolicy registers a policy, appended after any already registered.
// Policies run in insertion order, not by priority.
func (m *Manager) AddPolicy(p policy.Policy) {
	m.policiesMu.Lock()
	defer m.policiesMu.Unlock()
	m.policies = append(m.policies, p)
}

// RemovePolicy deregisters a policy by name. Idempotent.
func (m *Manager) RemovePolicy(name string) {
	m.policiesMu.Lock()
	defer m.policiesMu.Unlock()
	out := m.policies[:0]
	for _, p := range m.policies {
		if p.Name() != name {
			out = append(out, p)
		}
	}
	m.policies = out
}

// Policies returns the names of the currently registered policies.
func (m *Manager) Policies() []string {
	m.policiesMu.RLock()
	defer m.policiesMu.RUnlock()
	names := make([]string, len(m.policies))
	for i, p := range m.policies {
		names[i] = p.Name()
	}
	return names
}

// RunOnce executes a single tick outside the ticker loop — used by the
// control API's explicit RunOnce and by tests. If a tick is already running
// it returns immediately with skipped=true, incrementing SkippedTicksTotal.
func (m *Manager) RunOnce(ctx context.Context) (skipped bool, err error) {
	if !m.tickMu.TryLock() {
		metrics.SkippedTicksTotal.Inc()
		return true, nil
	}
	defer m.tickMu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.TickDuration)
		metrics.TicksTotal.Inc()
	}()

	m.broker.Publish(&events.Event{Type: events.EventTickStarted})
	m.logger.Debug().Msg("tick started")

	tasks, err := m.store.ListTasks()
	if err != nil {
		return false, fmt.Errorf("amm: list tasks: %w", err)
	}
	workers, err := m.store.ListWorkers()
	if err != nil {
		return false, fmt.Errorf("amm: list workers: %w", err)
	}

	inMemory := 0
	byStatus := map[types.WorkerStatus]int{}
	for _, t := range tasks {
		if t.State == types.TaskStateMemory {
			inMemory++
		}
	}
	for _, w := range workers {
		byStatus[w.Status]++
	}
	metrics.TasksInMemoryTotal.Set(float64(inMemory))
	for status, count := range byStatus {
		metrics.WorkersTotal.WithLabelValues(string(status)).Set(float64(count))
	}

	arb := arbiter.New(tasks, workers)
	h := &handle{m: m, tasks: tasks, workers: workers}

	m.policiesMu.RLock()
	policies := append([]policy.Policy(nil), m.policies...)
	m.policiesMu.RUnlock()

	for _, p := range policies {
		m.runPolicy(ctx, p, h, arb)
	}

	m.dispatch(arb.Transactions())

	m.broker.Publish(&events.Event{Type: events.EventTickCompleted})
	m.logger.Debug().Msg("tick completed")
	return false, nil
}

// runPolicy drains one policy's Iterator, feeding each suggestion to the
// arbiter. A panicking policy is isolated: it is logged, its remaining
// suggestions are discarded, and the rest of the tick continues.
func (m *Manager) runPolicy(ctx context.Context, p policy.Policy, h policy.Handle, arb *arbiter.Arbiter) {
	defer func() {
		if r := recover(); r != nil {
			err := &policy.ErrPolicyPanic{Policy: p.Name(), Cause: r}
			m.logger.Error().Str("policy", p.Name()).Interface("cause", r).Msg(err.Error())
			metrics.PolicyPanicsTotal.WithLabelValues(p.Name()).Inc()
		}
	}()

	it := p.Run(ctx, h)
	for {
		s, ok, err := it.Next(ctx)
		if err != nil {
			m.logger.Warn().Str("policy", p.Name()).Err(err).Msg("policy iterator aborted")
			return
		}
		if !ok {
			return
		}

		d, err := arb.Consume(s)
		if err != nil {
			m.logger.Error().Str("policy", p.Name()).Err(err).
				Str("task_key", s.TaskKey).Msg("invalid suggestion")
			continue
		}
		if d.Silent {
			continue
		}
		if d.Accepted {
			m.broker.Publish(&events.Event{
				Type: events.EventSuggestionAccepted,
				Metadata: map[string]string{
					"policy": p.Name(), "op": string(s.Op), "task_key": s.TaskKey, "worker": d.Worker,
				},
			})
		} else {
			m.broker.Publish(&events.Event{
				Type: events.EventSuggestionRejected,
				Metadata: map[string]string{
					"policy": p.Name(), "op": string(s.Op), "task_key": s.TaskKey, "reason": d.Reason,
				},
			})
		}
	}
}

// dispatchTimeout bounds a single worker's dispatch RPC so one unresponsive
// worker can never hang longer than this, let alone hold up the next tick.
const dispatchTimeout = 10 * time.Second

// dispatch delivers every task's accumulated transaction to the workers
// gaining or losing a replica, batching per worker across all tasks in the
// tick rather than issuing one RPC per key. Each worker's RPCs run in their
// own goroutine with a bounded context, fire-and-forget: dispatch returns as
// soon as the goroutines are started, so a slow or dead worker never blocks
// the tick that queued its transfer, let alone the next one.
func (m *Manager) dispatch(transactions map[string]*types.Transaction) {
	acquire := map[string][]string{}
	remove := map[string][]string{}
	for key, tx := range transactions {
		if tx.Empty() {
			continue
		}
		for _, w := range tx.PendingAdd {
			acquire[w] = append(acquire[w], key)
		}
		for _, w := range tx.PendingRemove {
			remove[w] = append(remove[w], key)
		}
	}

	for worker, keys := range acquire {
		go m.dispatchAcquire(worker, keys)
	}
	for worker, keys := range remove {
		go m.dispatchRemove(worker, keys)
	}
}

func (m *Manager) dispatchAcquire(worker string, keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	err := m.dispatcher.AcquireReplicas(ctx, worker, keys)
	timer.ObserveDurationVec(metrics.DispatchDuration, "acquire")
	status := "ok"
	if err != nil {
		status = "error"
		m.logger.Warn().Str("worker", worker).Err(err).Msg("acquire-replicas dispatch failed")
	}
	metrics.DispatchRPCsTotal.WithLabelValues("acquire", status).Inc()
}

func (m *Manager) dispatchRemove(worker string, keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	err := m.dispatcher.RemoveReplicas(ctx, worker, keys)
	timer.ObserveDurationVec(metrics.DispatchDuration, "remove")
	status := "ok"
	if err != nil {
		status = "error"
		m.logger.Warn().Str("worker", worker).Err(err).Msg("remove-replicas dispatch failed")
	}
	metrics.DispatchRPCsTotal.WithLabelValues("remove", status).Inc()
}

// handle is the per-tick policy.Handle backed by the tick's task/worker
// snapshot; RemovePolicy delegates to the owning Manager.
type handle struct {
	m       *Manager
	tasks   []*types.Task
	workers []*types.Worker
}

func (h *handle) Tasks() ([]*types.Task, error)     { return h.tasks, nil }
func (h *handle) Workers() ([]*types.Worker, error) { return h.workers, nil }
func (h *handle) RemovePolicy(name string)          { h.m.RemovePolicy(name) }
