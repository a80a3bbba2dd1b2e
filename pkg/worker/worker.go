// Package worker is an in-memory worker simulation harness: it holds task
// results, answers the active memory manager's AcquireReplicas/
// RemoveReplicas RPCs, and reports its own state back into the shared store
// on a heartbeat loop. It stands in for a real Dask-style worker process
// for the "amm simulate" CLI subcommand and for manager-level tests, which
// call its RPC methods in-process rather than over a gRPC listener.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/amm/pkg/log"
	"github.com/cuemby/amm/pkg/rpc"
	"github.com/cuemby/amm/pkg/state"
	"github.com/cuemby/amm/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds worker configuration.
type Config struct {
	Address           string
	Store             state.Store
	MemoryLimit       int64
	HeartbeatInterval time.Duration
}

// Worker is a simulated worker process: it owns a set of keys, answers
// replica RPCs for them, and heartbeats its status into the store.
type Worker struct {
	address           string
	store             state.Store
	memoryLimit       int64
	heartbeatInterval time.Duration
	logger            zerolog.Logger

	mu   sync.RWMutex
	keys map[string]int64 // key -> nbytes

	stopCh chan struct{}
}

// NewWorker creates a new simulated worker. Call Start to register it in
// the store and begin heartbeating.
func NewWorker(cfg Config) *Worker {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{
		address:           cfg.Address,
		store:             cfg.Store,
		memoryLimit:       cfg.MemoryLimit,
		heartbeatInterval: interval,
		logger:            log.WithWorkerAddr(cfg.Address),
		keys:              make(map[string]int64),
		stopCh:            make(chan struct{}),
	}
}

// Address returns the worker's gRPC address.
func (w *Worker) Address() string { return w.address }

// Start registers the worker as running and begins the heartbeat loop.
func (w *Worker) Start() error {
	if err := w.store.CreateWorker(&types.Worker{
		Address:       w.address,
		Status:        types.WorkerStatusRunning,
		MemoryLimit:   w.memoryLimit,
		LastHeartbeat: time.Now(),
	}); err != nil {
		return fmt.Errorf("worker: register %s: %w", w.address, err)
	}
	go w.heartbeatLoop()
	w.logger.Info().Msg("worker started")
	return nil
}

// Stop halts the heartbeat loop. It does not remove the worker from the
// store — callers that want a clean departure should retire it first.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.logger.Info().Msg("worker stopped")
}

func (w *Worker) heartbeatLoop() {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.sendHeartbeat(); err != nil {
				w.logger.Error().Err(err).Msg("heartbeat failed")
			}
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) sendHeartbeat() error {
	w.mu.RLock()
	hasWhat := make([]string, 0, len(w.keys))
	var used int64
	for key, nbytes := range w.keys {
		hasWhat = append(hasWhat, key)
		used += nbytes
	}
	w.mu.RUnlock()

	rec, err := w.store.GetWorker(w.address)
	if err != nil {
		return fmt.Errorf("heartbeat: get worker record: %w", err)
	}
	rec.HasWhat = hasWhat
	rec.MemoryUsed = used
	rec.MemoryOptimistic = used
	rec.LastHeartbeat = time.Now()
	return w.store.UpdateWorker(rec)
}

// Pause marks the worker paused: it keeps its current replicas but is no
// longer an eligible replication target.
func (w *Worker) Pause() error {
	return w.setStatus(types.WorkerStatusPaused)
}

// Resume marks a paused worker running again.
func (w *Worker) Resume() error {
	return w.setStatus(types.WorkerStatusRunning)
}

func (w *Worker) setStatus(status types.WorkerStatus) error {
	rec, err := w.store.GetWorker(w.address)
	if err != nil {
		return err
	}
	rec.Status = status
	return w.store.UpdateWorker(rec)
}

// AcquireReplicas implements rpc.WorkerServer: fetches and holds the given
// keys. A key whose task no longer exists in the store (a faulty/stale
// suggestion) is skipped rather than failing the whole call.
func (w *Worker) AcquireReplicas(ctx context.Context, req *rpc.AcquireReplicasRequest) (*rpc.AcquireReplicasResponse, error) {
	var acquired []string
	for _, key := range req.Keys {
		task, err := w.store.GetTask(key)
		if err != nil {
			w.logger.Warn().Str("task_key", key).Msg("acquire: task no longer exists, skipping")
			continue
		}

		w.mu.Lock()
		w.keys[key] = task.NBytes
		w.mu.Unlock()

		task.WhoHas = appendUniqueAddr(task.WhoHas, w.address)
		if err := w.store.UpdateTask(task); err != nil {
			w.logger.Warn().Str("task_key", key).Err(err).Msg("acquire: failed to record holder")
			continue
		}
		acquired = append(acquired, key)
	}

	if err := w.sendHeartbeat(); err != nil {
		return nil, err
	}
	return &rpc.AcquireReplicasResponse{Acquired: acquired}, nil
}

// RemoveReplicas implements rpc.WorkerServer: drops the given keys, except
// any that the worker's store record lists as currently being processed.
func (w *Worker) RemoveReplicas(ctx context.Context, req *rpc.RemoveReplicasRequest) (*rpc.RemoveReplicasResponse, error) {
	rec, recErr := w.store.GetWorker(w.address)
	var removed []string
	w.mu.Lock()
	for _, key := range req.Keys {
		if recErr == nil && rec.IsProcessing(key) {
			continue
		}
		if _, ok := w.keys[key]; ok {
			delete(w.keys, key)
			removed = append(removed, key)
		}
	}
	w.mu.Unlock()

	for _, key := range removed {
		task, err := w.store.GetTask(key)
		if err != nil {
			continue
		}
		task.WhoHas = removeAddr(task.WhoHas, w.address)
		if err := w.store.UpdateTask(task); err != nil {
			w.logger.Warn().Str("task_key", key).Err(err).Msg("remove: failed to record release")
		}
	}

	if err := w.sendHeartbeat(); err != nil {
		return nil, err
	}
	return &rpc.RemoveReplicasResponse{Removed: removed}, nil
}

// Close implements rpc.WorkerServer: stops the heartbeat loop, as though
// the worker process itself were exiting. It does not touch the store —
// the caller that requested the close is responsible for deregistering the
// worker, since a worker cannot safely delete its own record mid-RPC.
func (w *Worker) Close(ctx context.Context, req *rpc.CloseRequest) (*rpc.CloseResponse, error) {
	w.Stop()
	return &rpc.CloseResponse{}, nil
}

func appendUniqueAddr(addrs []string, addr string) []string {
	for _, a := range addrs {
		if a == addr {
			return addrs
		}
	}
	return append(addrs, addr)
}

func removeAddr(addrs []string, addr string) []string {
	out := addrs[:0]
	for _, a := range addrs {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}
