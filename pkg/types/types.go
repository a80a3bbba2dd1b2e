package types

import "time"

// TaskState is the coarse lifecycle state of a task result as tracked by the
// scheduler. Only TaskStateMemory is eligible for drop or replicate
// suggestions.
type TaskState string

const (
	TaskStateMemory     TaskState = "memory"
	TaskStateProcessing TaskState = "processing"
	TaskStateReleased   TaskState = "released"
	TaskStateErred      TaskState = "erred"
)

// WorkerStatus mirrors the statuses the scheduler assigns to a worker.
// WorkerStatusClosingGracefully marks a worker mid-retirement: it accepts no
// new work and must be drained of replicas before it leaves the cluster.
type WorkerStatus string

const (
	WorkerStatusRunning           WorkerStatus = "running"
	WorkerStatusPaused            WorkerStatus = "paused"
	WorkerStatusClosingGracefully WorkerStatus = "closing_gracefully"
	WorkerStatusClosed            WorkerStatus = "closed"
)

// Task is a read-only snapshot of a single task's placement and state as the
// AMM sees it at the start of a tick.
type Task struct {
	Key     string
	State   TaskState
	WhoHas  []string // worker addresses currently holding the result
	Waiters []string // keys of unfinished dependents that still need this result
	NBytes  int64
}

// HasHolder reports whether addr currently holds this task's result.
func (t *Task) HasHolder(addr string) bool {
	for _, w := range t.WhoHas {
		if w == addr {
			return true
		}
	}
	return false
}

// Worker is a read-only snapshot of a single worker's status and load as the
// AMM sees it at the start of a tick.
type Worker struct {
	Address          string
	Status           WorkerStatus
	MemoryUsed       int64 // bytes currently resident
	MemoryOptimistic int64 // bytes including in-flight incoming transfers
	MemoryLimit      int64
	HasWhat          []string // keys currently held
	Processing       []string // keys currently needed as inputs to running tasks
	LastHeartbeat    time.Time
}

// Retiring reports whether the worker is mid-drain and must not receive new
// replicas.
func (w *Worker) Retiring() bool {
	return w.Status == WorkerStatusClosingGracefully
}

// Eligible reports whether the worker may receive new replicas: running and
// not paused or retiring.
func (w *Worker) Eligible() bool {
	return w.Status == WorkerStatusRunning
}

// FreeMemory is the worker's headroom under its optimistic projection; lower
// values mean the worker is more loaded.
func (w *Worker) FreeMemory() int64 {
	return w.MemoryLimit - w.MemoryOptimistic
}

// IsProcessing reports whether the worker currently needs key as an input to
// a task it is executing.
func (w *Worker) IsProcessing(key string) bool {
	for _, k := range w.Processing {
		if k == key {
			return true
		}
	}
	return false
}

// Op is the action a Suggestion proposes.
type Op string

const (
	OpDrop      Op = "drop"
	OpReplicate Op = "replicate"
)

// Candidates is an option-of-set: nil-vs-empty-vs-populated all carry
// distinct meaning and must be preserved through the arbiter. A zero-value
// Candidates (IsSet == false) means "pick any eligible worker". IsSet ==
// true with an empty Set means "do nothing" — an explicit no-op, not an
// absence of preference.
type Candidates struct {
	Set   []string
	IsSet bool
}

// AnyCandidate is the nil-candidates value: no restriction on worker choice.
var AnyCandidate = Candidates{}

// CandidateSet wraps an explicit (possibly empty) candidate worker set.
func CandidateSet(addrs ...string) Candidates {
	return Candidates{Set: addrs, IsSet: true}
}

// Contains reports whether addr is named in an explicit candidate set. Only
// meaningful when IsSet is true.
func (c Candidates) Contains(addr string) bool {
	for _, a := range c.Set {
		if a == addr {
			return true
		}
	}
	return false
}

// Suggestion is a policy's proposed action, consumed one at a time by the
// arbiter.
type Suggestion struct {
	Op         Op
	TaskKey    string
	Candidates Candidates
}

// Transaction accumulates the per-tick planned worker-set changes for a
// single task. PendingAdd and PendingRemove are always disjoint.
type Transaction struct {
	PendingAdd    []string
	PendingRemove []string
}

// AddPending records addr as a planned replication recipient. A no-op if
// addr is already a planned drop source: a worker never appears in both
// sets for the same task in the same tick.
func (x *Transaction) AddPending(addr string) {
	if contains(x.PendingRemove, addr) {
		return
	}
	x.PendingAdd = append(x.PendingAdd, addr)
}

// RemovePending records addr as a planned drop source. A no-op if addr is
// already a planned replication recipient, for the same reason.
func (x *Transaction) RemovePending(addr string) {
	if contains(x.PendingAdd, addr) {
		return
	}
	x.PendingRemove = append(x.PendingRemove, addr)
}

func contains(addrs []string, addr string) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// Empty reports whether the transaction has no planned changes for the task.
func (x *Transaction) Empty() bool {
	return len(x.PendingAdd) == 0 && len(x.PendingRemove) == 0
}
