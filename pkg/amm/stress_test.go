package amm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/amm/pkg/events"
	"github.com/cuemby/amm/pkg/policy"
	"github.com/cuemby/amm/pkg/rpc"
	"github.com/cuemby/amm/pkg/types"
	"github.com/cuemby/amm/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workerDispatcher is a Dispatcher that calls directly into a set of
// in-process worker.Worker instances instead of over gRPC, so the stress
// tests below can drive many ticks against many simulated workers without
// opening real sockets.
type workerDispatcher struct {
	mu      sync.RWMutex
	workers map[string]*worker.Worker
}

func newWorkerDispatcher() *workerDispatcher {
	return &workerDispatcher{workers: map[string]*worker.Worker{}}
}

func (d *workerDispatcher) register(w *worker.Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers[w.Address()] = w
}

func (d *workerDispatcher) get(addr string) (*worker.Worker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workers[addr]
	if !ok {
		return nil, fmt.Errorf("stress: unknown worker %s", addr)
	}
	return w, nil
}

func (d *workerDispatcher) AcquireReplicas(ctx context.Context, addr string, keys []string) error {
	w, err := d.get(addr)
	if err != nil {
		return err
	}
	_, err = w.AcquireReplicas(ctx, &rpc.AcquireReplicasRequest{Keys: keys})
	return err
}

func (d *workerDispatcher) RemoveReplicas(ctx context.Context, addr string, keys []string) error {
	w, err := d.get(addr)
	if err != nil {
		return err
	}
	_, err = w.RemoveReplicas(ctx, &rpc.RemoveReplicasRequest{Keys: keys})
	return err
}

func (d *workerDispatcher) CloseWorker(ctx context.Context, addr string) error {
	w, err := d.get(addr)
	if err != nil {
		return nil
	}
	_, err = w.Close(ctx, &rpc.CloseRequest{})
	return err
}

// dropEverything is a deliberately malicious stress-test policy: for every
// task in memory it asks the arbiter to drop every holder, regardless of
// how many there are. A correct arbiter keeps accepting drops only while
// another healthy holder remains, so it never takes the last replica.
type dropEverything struct{}

func (dropEverything) Name() string { return "DropEverything" }

func (dropEverything) Run(ctx context.Context, h policy.Handle) policy.Iterator {
	tasks, err := h.Tasks()
	if err != nil {
		return policy.NewSliceIterator(nil)
	}
	var suggestions []types.Suggestion
	for _, task := range tasks {
		if task.State != types.TaskStateMemory {
			continue
		}
		for i := 0; i < len(task.WhoHas)+5; i++ {
			suggestions = append(suggestions, types.Suggestion{
				Op: types.OpDrop, TaskKey: task.Key, Candidates: types.AnyCandidate,
			})
		}
	}
	return policy.NewSliceIterator(suggestions)
}

// newStressWorkers starts n in-process simulated workers sharing store and
// registers each with dispatcher.
func newStressWorkers(t *testing.T, store *memStore, dispatcher *workerDispatcher, n int) []*worker.Worker {
	t.Helper()
	workers := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		w := worker.NewWorker(worker.Config{
			Address:           fmt.Sprintf("stress-worker-%d", i),
			Store:             store,
			MemoryLimit:       1 << 30,
			HeartbeatInterval: time.Hour, // not exercised here; AcquireReplicas/RemoveReplicas heartbeat inline
		})
		require.NoError(t, w.Start())
		dispatcher.register(w)
		workers = append(workers, w)
	}
	return workers
}

// TestStress_ReduceReplicasDuringOngoingCompletions runs ReduceReplicas on a
// fast tick loop while a background goroutine keeps completing new tasks
// with two holders apiece, mirroring ReduceReplicas firing every 10ms
// concurrently with the scheduler's own task completions. It asserts the
// run finishes without deadlocking and that every task eventually settles
// to a single holder.
func TestStress_ReduceReplicasDuringOngoingCompletions(t *testing.T) {
	store := newMemStore()
	dispatcher := newWorkerDispatcher()
	workers := newStressWorkers(t, store, dispatcher, 4)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	m := NewManager(store, dispatcher, broker, time.Hour)
	m.AddPolicy(policy.NewReduceReplicas())

	const duration = 300 * time.Millisecond
	stop := time.After(duration)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		i := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			key := fmt.Sprintf("task-%d", i)
			i++
			require.NoError(t, store.CreateTask(&types.Task{
				Key: key, State: types.TaskStateMemory, NBytes: 1024,
				WhoHas: []string{workers[i%len(workers)].Address(), workers[(i+1)%len(workers)].Address()},
			}))
			for _, holder := range []*worker.Worker{workers[i%len(workers)], workers[(i+1)%len(workers)]} {
				_, err := holder.AcquireReplicas(context.Background(), &rpc.AcquireReplicasRequest{Keys: []string{key}})
				require.NoError(t, err)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(duration + 200*time.Millisecond)
loop:
	for {
		select {
		case <-ticker.C:
			_, err := m.RunOnce(context.Background())
			require.NoError(t, err)
		case <-deadline:
			break loop
		}
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		tasks, err := store.ListTasks()
		require.NoError(t, err)
		for _, task := range tasks {
			if len(task.WhoHas) > 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "ReduceReplicas should settle every task to one holder")
}

// TestStress_DropEverythingNeverTakesLastReplica runs an adversarial policy
// that asks to drop every holder of every task, tick after tick, for a
// couple hundred milliseconds. The only contract it must honor is the
// arbiter's invariant that a task in memory always keeps at least one
// holder: the stress is meant to slow things down, never to corrupt them.
func TestStress_DropEverythingNeverTakesLastReplica(t *testing.T) {
	store := newMemStore()
	dispatcher := newWorkerDispatcher()
	workers := newStressWorkers(t, store, dispatcher, 3)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	m := NewManager(store, dispatcher, broker, time.Hour)
	m.AddPolicy(dropEverything{})

	for i, w := range workers {
		key := fmt.Sprintf("seed-%d", i)
		require.NoError(t, store.CreateTask(&types.Task{
			Key: key, State: types.TaskStateMemory, NBytes: 1024, WhoHas: []string{w.Address()},
		}))
	}

	const duration = 200 * time.Millisecond
	deadline := time.After(duration)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			_, err := m.RunOnce(context.Background())
			require.NoError(t, err)
		case <-deadline:
			break loop
		}
	}

	// Let the last tick's fire-and-forget dispatch goroutines land before
	// inspecting final state.
	time.Sleep(100 * time.Millisecond)

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	for _, task := range tasks {
		if task.State != types.TaskStateMemory {
			continue
		}
		assert.GreaterOrEqual(t, len(task.WhoHas), 1, "task %s must keep at least one replica", task.Key)
	}
}
