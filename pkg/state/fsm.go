package state

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/amm/pkg/types"
	"github.com/hashicorp/raft"
)

// FSM implements the Raft finite state machine for AMM cluster state. It
// applies replicated task/worker commands to the backing Store and handles
// snapshot/restore for log compaction.
type FSM struct {
	mu    sync.RWMutex
	store Store
}

// NewFSM creates an FSM backed by store.
func NewFSM(store Store) *FSM {
	return &FSM{store: store}
}

// Command represents a single state change in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Apply applies a committed Raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create_task":
		var task types.Task
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.CreateTask(&task)

	case "update_task":
		var task types.Task
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.UpdateTask(&task)

	case "delete_task":
		var key string
		if err := json.Unmarshal(cmd.Data, &key); err != nil {
			return err
		}
		return f.store.DeleteTask(key)

	case "create_worker":
		var worker types.Worker
		if err := json.Unmarshal(cmd.Data, &worker); err != nil {
			return err
		}
		return f.store.CreateWorker(&worker)

	case "update_worker":
		var worker types.Worker
		if err := json.Unmarshal(cmd.Data, &worker); err != nil {
			return err
		}
		return f.store.UpdateWorker(&worker)

	case "delete_worker":
		var addr string
		if err := json.Unmarshal(cmd.Data, &addr); err != nil {
			return err
		}
		return f.store.DeleteWorker(addr)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures a point-in-time view of all tasks and workers.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tasks, err := f.store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	workers, err := f.store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	return &Snapshot{Tasks: tasks, Workers: workers}, nil
}

// Restore replaces the FSM's state with a previously persisted snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	oldTasks, err := f.store.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	for _, task := range oldTasks {
		if err := f.store.DeleteTask(task.Key); err != nil {
			return fmt.Errorf("failed to clear task: %w", err)
		}
	}
	oldWorkers, err := f.store.ListWorkers()
	if err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}
	for _, worker := range oldWorkers {
		if err := f.store.DeleteWorker(worker.Address); err != nil {
			return fmt.Errorf("failed to clear worker: %w", err)
		}
	}

	for _, task := range snap.Tasks {
		if err := f.store.CreateTask(task); err != nil {
			return fmt.Errorf("failed to restore task: %w", err)
		}
	}
	for _, worker := range snap.Workers {
		if err := f.store.CreateWorker(worker); err != nil {
			return fmt.Errorf("failed to restore worker: %w", err)
		}
	}
	return nil
}

// Snapshot is the JSON-serialized form of FSM state persisted to Raft's
// snapshot store.
type Snapshot struct {
	Tasks   []*types.Task
	Workers []*types.Worker
}

// Persist writes the snapshot to sink.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no external resources.
func (s *Snapshot) Release() {}
