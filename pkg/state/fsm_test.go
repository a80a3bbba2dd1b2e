package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/cuemby/amm/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	tasks   map[string]*types.Task
	workers map[string]*types.Worker
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]*types.Task{}, workers: map[string]*types.Worker{}}
}

func (s *memStore) CreateTask(t *types.Task) error { s.tasks[t.Key] = t; return nil }
func (s *memStore) GetTask(key string) (*types.Task, error) {
	t, ok := s.tasks[key]
	if !ok {
		return nil, fmt.Errorf("task %q not found", key)
	}
	return t, nil
}
func (s *memStore) ListTasks() ([]*types.Task, error) {
	out := make([]*types.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}
func (s *memStore) UpdateTask(t *types.Task) error { s.tasks[t.Key] = t; return nil }
func (s *memStore) DeleteTask(key string) error    { delete(s.tasks, key); return nil }

func (s *memStore) CreateWorker(w *types.Worker) error { s.workers[w.Address] = w; return nil }
func (s *memStore) GetWorker(addr string) (*types.Worker, error) {
	w, ok := s.workers[addr]
	if !ok {
		return nil, fmt.Errorf("worker %q not found", addr)
	}
	return w, nil
}
func (s *memStore) ListWorkers() ([]*types.Worker, error) {
	out := make([]*types.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out, nil
}
func (s *memStore) UpdateWorker(w *types.Worker) error { s.workers[w.Address] = w; return nil }
func (s *memStore) DeleteWorker(addr string) error     { delete(s.workers, addr); return nil }
func (s *memStore) Close() error                       { return nil }

func applyCmd(t *testing.T, fsm *FSM, op string, data interface{}) interface{} {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	cmdBytes, err := json.Marshal(Command{Op: op, Data: raw})
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: cmdBytes})
}

func TestFSM_ApplyCreateAndUpdateTask(t *testing.T) {
	store := newMemStore()
	fsm := NewFSM(store)

	result := applyCmd(t, fsm, "create_task", &types.Task{Key: "x", NBytes: 10})
	assert.Nil(t, result)

	task, err := store.GetTask("x")
	require.NoError(t, err)
	assert.Equal(t, int64(10), task.NBytes)

	result = applyCmd(t, fsm, "update_task", &types.Task{Key: "x", NBytes: 20})
	assert.Nil(t, result)
	task, err = store.GetTask("x")
	require.NoError(t, err)
	assert.Equal(t, int64(20), task.NBytes)
}

func TestFSM_ApplyDeleteWorker(t *testing.T) {
	store := newMemStore()
	fsm := NewFSM(store)

	applyCmd(t, fsm, "create_worker", &types.Worker{Address: "w1"})
	_, err := store.GetWorker("w1")
	require.NoError(t, err)

	result := applyCmd(t, fsm, "delete_worker", "w1")
	assert.Nil(t, result)

	_, err = store.GetWorker("w1")
	assert.Error(t, err)
}

func TestFSM_ApplyUnknownCommandReturnsError(t *testing.T) {
	fsm := NewFSM(newMemStore())
	result := applyCmd(t, fsm, "not_a_real_op", "x")
	err, ok := result.(error)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestFSM_SnapshotCapturesCurrentState(t *testing.T) {
	store := newMemStore()
	fsm := NewFSM(store)
	applyCmd(t, fsm, "create_task", &types.Task{Key: "x"})
	applyCmd(t, fsm, "create_worker", &types.Worker{Address: "w1"})

	snap, err := fsm.Snapshot()
	require.NoError(t, err)
	s, ok := snap.(*Snapshot)
	require.True(t, ok)
	assert.Len(t, s.Tasks, 1)
	assert.Len(t, s.Workers, 1)
}
