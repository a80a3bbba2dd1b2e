// Package arbiter implements the suggestion arbiter: the safety core of the
// active memory manager. It consumes one Suggestion at a time, enforces the
// replication-safety invariants, selects the specific worker to act on, and
// accumulates the per-task Transaction the manager dispatches at the end of
// a tick.
package arbiter

import (
	"errors"
	"sort"

	"github.com/cuemby/amm/pkg/log"
	"github.com/cuemby/amm/pkg/metrics"
	"github.com/cuemby/amm/pkg/types"
	"github.com/rs/zerolog"
)

// ErrInvalidSuggestion is returned for a malformed suggestion (unknown op,
// unknown task key): a fatal programming error, surfaced before any
// dispatch.
var ErrInvalidSuggestion = errors.New("arbiter: invalid suggestion")

// Rejection reasons, used verbatim in rejection log lines.
const (
	ReasonLessThanTwoReplicas  = "less than 2 replicas exist"
	ReasonNoEligibleHolder     = "no eligible holder"
	ReasonAllCandidatesHoldKey = "all candidates hold the key"
	ReasonNoCandidateHoldsKey  = "no candidate holds the key"
	ReasonAllRecipientsPaused  = "all recipients paused"
	ReasonWaitersStranded      = "waiters would be stranded"
	ReasonNotInMemory          = "task not in memory"
)

// Decision records the outcome of consuming a single suggestion.
type Decision struct {
	Accepted bool
	Worker   string // chosen drop source or replicate recipient, if accepted
	Reason   string // rejection reason; empty when accepted or silently no-op
	Silent   bool   // true for an explicit empty-candidates no-op: never logged
}

// Arbiter holds the tick's snapshot of tasks and workers plus the
// in-progress per-task transactions.
type Arbiter struct {
	logger  zerolog.Logger
	tasks   map[string]*types.Task
	workers map[string]*types.Worker
	tx      map[string]*types.Transaction
}

// New builds an Arbiter over a tick's task/worker snapshot.
func New(tasks []*types.Task, workers []*types.Worker) *Arbiter {
	a := &Arbiter{
		logger:  log.WithComponent("arbiter"),
		tasks:   make(map[string]*types.Task, len(tasks)),
		workers: make(map[string]*types.Worker, len(workers)),
		tx:      make(map[string]*types.Transaction),
	}
	for _, t := range tasks {
		a.tasks[t.Key] = t
	}
	for _, w := range workers {
		a.workers[w.Address] = w
	}
	return a
}

// Transactions returns the read-only view of the transaction accumulated so
// far, keyed by task key. A policy could introspect this to see what the
// tick has committed to before it finishes producing suggestions; the
// built-in policies do not.
func (a *Arbiter) Transactions() map[string]*types.Transaction {
	return a.tx
}

func (a *Arbiter) txFor(key string) *types.Transaction {
	x, ok := a.tx[key]
	if !ok {
		x = &types.Transaction{}
		a.tx[key] = x
	}
	return x
}

// effectiveHolders computes H = (who_has ∪ pending_add) \ pending_remove
// for a task, deduplicated.
func (a *Arbiter) effectiveHolders(task *types.Task) []string {
	x := a.tx[task.Key]
	removed := map[string]bool{}
	if x != nil {
		for _, w := range x.PendingRemove {
			removed[w] = true
		}
	}

	seen := map[string]bool{}
	var out []string
	add := func(addr string) {
		if removed[addr] || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}
	for _, w := range task.WhoHas {
		add(w)
	}
	if x != nil {
		for _, w := range x.PendingAdd {
			add(w)
		}
	}
	return out
}

// Consume validates and, if accepted, records a single suggestion.
func (a *Arbiter) Consume(s types.Suggestion) (Decision, error) {
	task, ok := a.tasks[s.TaskKey]
	if !ok {
		return Decision{}, ErrInvalidSuggestion
	}

	if s.Candidates.IsSet && len(s.Candidates.Set) == 0 {
		// Explicit no-op: the policy asked for nothing to happen here.
		return Decision{Accepted: false, Silent: true}, nil
	}

	if task.State != types.TaskStateMemory {
		return a.reject(s, ReasonNotInMemory), nil
	}

	switch s.Op {
	case types.OpDrop:
		return a.consumeDrop(s, task), nil
	case types.OpReplicate:
		return a.consumeReplicate(s, task), nil
	default:
		return Decision{}, ErrInvalidSuggestion
	}
}

func (a *Arbiter) reject(s types.Suggestion, reason string) Decision {
	a.logger.Debug().
		Str("op", string(s.Op)).
		Str("task_key", s.TaskKey).
		Str("reason", reason).
		Msg("suggestion rejected")
	metrics.RejectionsTotal.WithLabelValues(string(s.Op), reason).Inc()
	return Decision{Accepted: false, Reason: reason}
}

func (a *Arbiter) consumeDrop(s types.Suggestion, task *types.Task) Decision {
	h := a.effectiveHolders(task)
	hSet := map[string]bool{}
	for _, w := range h {
		hSet[w] = true
	}

	// A worker this tick already decided to add to H is off-limits as a drop
	// source: dropping it now would put the same worker in both
	// pending_add and pending_remove for this task.
	pendingAdd := map[string]bool{}
	for _, w := range a.txFor(task.Key).PendingAdd {
		pendingAdd[w] = true
	}

	var pool []*types.Worker
	if s.Candidates.IsSet {
		for _, addr := range s.Candidates.Set {
			if hSet[addr] && !pendingAdd[addr] {
				if w, ok := a.workers[addr]; ok {
					pool = append(pool, w)
				}
			}
		}
		if len(pool) == 0 {
			return a.reject(s, ReasonNoCandidateHoldsKey)
		}
	} else {
		for _, addr := range h {
			if pendingAdd[addr] {
				continue
			}
			if w, ok := a.workers[addr]; ok {
				pool = append(pool, w)
			}
		}
		if len(pool) == 0 {
			return a.reject(s, ReasonNoEligibleHolder)
		}
	}

	healthyNonWaiterCountExcluding := func(excluded string) int {
		count := 0
		for _, addr := range h {
			if addr == excluded {
				continue
			}
			w, ok := a.workers[addr]
			if !ok || w.Status != types.WorkerStatusRunning {
				continue
			}
			if w.IsProcessing(task.Key) {
				continue
			}
			count++
		}
		return count
	}

	var safe []*types.Worker
	for _, w := range pool {
		if healthyNonWaiterCountExcluding(w.Address) >= 1 {
			safe = append(safe, w)
		}
	}
	if len(safe) == 0 {
		if len(task.Waiters) > 0 {
			return a.reject(s, ReasonWaitersStranded)
		}
		return a.reject(s, ReasonLessThanTwoReplicas)
	}

	var pausedOrRetiring, healthy []*types.Worker
	for _, w := range safe {
		if w.Status == types.WorkerStatusPaused || w.Retiring() {
			pausedOrRetiring = append(pausedOrRetiring, w)
		} else if !w.IsProcessing(task.Key) {
			healthy = append(healthy, w)
		}
	}

	var chosen *types.Worker
	if len(pausedOrRetiring) > 0 {
		sortByAddress(pausedOrRetiring)
		chosen = pausedOrRetiring[0]
	} else if len(healthy) > 0 {
		sortByLeastFreeMemory(healthy)
		chosen = healthy[0]
	} else {
		return a.reject(s, ReasonWaitersStranded)
	}

	a.txFor(task.Key).RemovePending(chosen.Address)
	a.logger.Debug().
		Str("op", "drop").
		Str("task_key", task.Key).
		Str("worker", chosen.Address).
		Msg("dropping replica")
	metrics.SuggestionsTotal.WithLabelValues("drop").Inc()
	return Decision{Accepted: true, Worker: chosen.Address}
}

func (a *Arbiter) consumeReplicate(s types.Suggestion, task *types.Task) Decision {
	h := a.effectiveHolders(task)
	hSet := map[string]bool{}
	for _, w := range h {
		hSet[w] = true
	}

	// A worker this tick already decided to drop is off-limits as a
	// replicate recipient: it has left H, but choosing it now would put the
	// same worker in both pending_add and pending_remove for this task.
	pendingRemove := map[string]bool{}
	for _, w := range a.txFor(task.Key).PendingRemove {
		pendingRemove[w] = true
	}

	var base []*types.Worker
	if s.Candidates.IsSet {
		for _, addr := range s.Candidates.Set {
			if w, ok := a.workers[addr]; ok {
				base = append(base, w)
			}
		}
	} else {
		for _, w := range a.workers {
			base = append(base, w)
		}
	}

	var outsideH []*types.Worker
	for _, w := range base {
		if !hSet[w.Address] && !pendingRemove[w.Address] {
			outsideH = append(outsideH, w)
		}
	}

	if len(outsideH) == 0 {
		if s.Candidates.IsSet {
			return a.reject(s, ReasonAllCandidatesHoldKey)
		}
		return a.reject(s, ReasonAllRecipientsPaused)
	}

	var pool []*types.Worker
	for _, w := range outsideH {
		if w.Eligible() {
			pool = append(pool, w)
		}
	}
	if len(pool) == 0 {
		return a.reject(s, ReasonAllRecipientsPaused)
	}

	sortByMostFreeMemory(pool)
	chosen := pool[0]

	a.txFor(task.Key).AddPending(chosen.Address)
	a.logger.Debug().
		Str("op", "replicate").
		Str("task_key", task.Key).
		Str("worker", chosen.Address).
		Msg("replicating to worker")
	metrics.SuggestionsTotal.WithLabelValues("replicate").Inc()
	return Decision{Accepted: true, Worker: chosen.Address}
}

func sortByAddress(ws []*types.Worker) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].Address < ws[j].Address })
}

// sortByLeastFreeMemory orders the most-loaded worker (least free memory)
// first, ties broken by address for reproducible tests.
func sortByLeastFreeMemory(ws []*types.Worker) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].FreeMemory() != ws[j].FreeMemory() {
			return ws[i].FreeMemory() < ws[j].FreeMemory()
		}
		return ws[i].Address < ws[j].Address
	})
}

// sortByMostFreeMemory orders the least-loaded worker (most free memory)
// first, ties broken by address.
func sortByMostFreeMemory(ws []*types.Worker) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].FreeMemory() != ws[j].FreeMemory() {
			return ws[i].FreeMemory() > ws[j].FreeMemory()
		}
		return ws[i].Address < ws[j].Address
	})
}
