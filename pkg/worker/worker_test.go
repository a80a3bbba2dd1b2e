package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/amm/pkg/rpc"
	"github.com/cuemby/amm/pkg/types"
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

func (s *memStore) CreateTask(t *types.Task) error { return s.UpdateTask(t) }
func (s *memStore) GetTask(key string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return nil, fmt.Errorf("task %q not found", key)
	}
	return t, nil
}
func (s *memStore) ListTasks() ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}
func (s *memStore) UpdateTask(t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.Key] = t
	return nil
}
func (s *memStore) DeleteTask(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, key)
	return nil
}

func (s *memStore) CreateWorker(w *types.Worker) error { return s.UpdateWorker(w) }
func (s *memStore) GetWorker(addr string) (*types.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[addr]
	if !ok {
		return nil, fmt.Errorf("worker %q not found", addr)
	}
	return w, nil
}
func (s *memStore) ListWorkers() ([]*types.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out, nil
}
func (s *memStore) UpdateWorker(w *types.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.Address] = w
	return nil
}
func (s *memStore) DeleteWorker(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, addr)
	return nil
}
func (s *memStore) Close() error { return nil }

func TestWorker_AcquireThenRemoveReplicas(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.CreateTask(&types.Task{Key: "x", State: types.TaskStateMemory, NBytes: 1024}))

	w := NewWorker(Config{Address: "w1", Store: store, MemoryLimit: 1 << 20, HeartbeatInterval: time.Hour})
	require.NoError(t, w.Start())
	defer w.Stop()

	acquireResp, err := w.AcquireReplicas(context.Background(), &rpc.AcquireReplicasRequest{Keys: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, acquireResp.Acquired)

	task, err := store.GetTask("x")
	require.NoError(t, err)
	assert.Contains(t, task.WhoHas, "w1")

	rec, err := store.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), rec.MemoryUsed)
	assert.Contains(t, rec.HasWhat, "x")

	removeResp, err := w.RemoveReplicas(context.Background(), &rpc.RemoveReplicasRequest{Keys: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, removeResp.Removed)

	task, err = store.GetTask("x")
	require.NoError(t, err)
	assert.NotContains(t, task.WhoHas, "w1")
}

func TestWorker_AcquireSkipsMissingTask(t *testing.T) {
	store := newMemStore()
	w := NewWorker(Config{Address: "w1", Store: store, MemoryLimit: 1 << 20, HeartbeatInterval: time.Hour})
	require.NoError(t, w.Start())
	defer w.Stop()

	resp, err := w.AcquireReplicas(context.Background(), &rpc.AcquireReplicasRequest{Keys: []string{"ghost"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Acquired)
}

func TestWorker_PauseResume(t *testing.T) {
	store := newMemStore()
	w := NewWorker(Config{Address: "w1", Store: store, MemoryLimit: 1 << 20, HeartbeatInterval: time.Hour})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, w.Pause())
	rec, err := store.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusPaused, rec.Status)

	require.NoError(t, w.Resume())
	rec, err = store.GetWorker("w1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusRunning, rec.Status)
}
