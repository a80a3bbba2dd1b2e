package amm

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/amm/pkg/events"
	"github.com/cuemby/amm/pkg/metrics"
	"github.com/cuemby/amm/pkg/policy"
	"github.com/cuemby/amm/pkg/types"
)

// RetireOptions tunes how RetireWorkers polls for drain progress and what
// happens to a worker once it is fully drained. Zero values fall back to
// the manager's own tick interval, a generous poll budget, closing nothing,
// and deregistering the worker — the same defaults as a plain drain-and-
// remove call from the control API.
type RetireOptions struct {
	PollInterval time.Duration
	MaxPolls     int

	// CloseWorkers asks each worker's RPC server to close itself once fully
	// drained. Defaults to false: the worker process keeps running, just
	// with nothing left to hold.
	CloseWorkers bool

	// SkipDeregister leaves the drained worker's record in the store
	// (marked closed) instead of deleting it. Defaults to false, so a
	// drained worker is removed from the worker set entirely.
	SkipDeregister bool
}

// RetireResult reports which workers were fully drained and which had to be
// given up on (and were restored to running).
type RetireResult struct {
	Retired []string
	GaveUp  []string
}

// RetireWorkers drains the named workers: each is marked closing_gracefully,
// a RetireWorker policy is installed for it, and RunOnce is driven forward
// until every policy reports done or gives up. This mirrors the batched,
// polling progress loop a rolling update drives over its containers, here
// applied to draining replicas instead of replacing containers.
func (m *Manager) RetireWorkers(ctx context.Context, addrs []string, opts RetireOptions) (RetireResult, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = m.interval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 100
	}

	policies := make(map[string]*policy.RetireWorker, len(addrs))
	remaining := make(map[string]bool, len(addrs))

	for _, addr := range addrs {
		w, err := m.store.GetWorker(addr)
		if err != nil {
			return RetireResult{}, fmt.Errorf("amm: retire %s: %w", addr, err)
		}
		w.Status = types.WorkerStatusClosingGracefully
		if err := m.store.UpdateWorker(w); err != nil {
			return RetireResult{}, fmt.Errorf("amm: retire %s: %w", addr, err)
		}
		m.broker.Publish(&events.Event{
			Type:     events.EventWorkerRetiring,
			Metadata: map[string]string{"worker": addr},
		})

		rp := policy.NewRetireWorker(addr)
		policies[addr] = rp
		remaining[addr] = true
		m.AddPolicy(rp)
	}

	var result RetireResult
	metrics.RetiringWorkersTotal.Set(float64(len(remaining)))

	for poll := 0; poll < opts.MaxPolls && len(remaining) > 0; poll++ {
		if _, err := m.RunOnce(ctx); err != nil {
			return result, err
		}

		sh, err := m.snapshotHandle()
		if err != nil {
			return result, err
		}

		for addr := range remaining {
			rp := policies[addr]
			switch {
			case rp.GaveUp():
				result.GaveUp = append(result.GaveUp, addr)
				delete(remaining, addr)
				m.RemovePolicy(rp.Name())
				m.restoreWorker(addr)
			case rp.Done(sh):
				result.Retired = append(result.Retired, addr)
				delete(remaining, addr)
				m.RemovePolicy(rp.Name())
				m.finishRetire(ctx, addr, opts)
			}
		}
		metrics.RetiringWorkersTotal.Set(float64(len(remaining)))

		if len(remaining) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(opts.PollInterval):
		}
	}

	for addr := range remaining {
		result.GaveUp = append(result.GaveUp, addr)
		m.RemovePolicy(policies[addr].Name())
		m.restoreWorker(addr)
	}
	metrics.RetiringWorkersTotal.Set(0)

	return result, nil
}

func (m *Manager) snapshotHandle() (policy.Handle, error) {
	workers, err := m.store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("amm: list workers: %w", err)
	}
	tasks, err := m.store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("amm: list tasks: %w", err)
	}
	return &handle{m: m, tasks: tasks, workers: workers}, nil
}

func (m *Manager) restoreWorker(addr string) {
	w, err := m.store.GetWorker(addr)
	if err != nil {
		m.logger.Warn().Str("worker", addr).Err(err).Msg("could not restore worker after failed retirement")
		return
	}
	w.Status = types.WorkerStatusRunning
	if err := m.store.UpdateWorker(w); err != nil {
		m.logger.Warn().Str("worker", addr).Err(err).Msg("could not restore worker after failed retirement")
		return
	}
	m.logger.Warn().Str("worker", addr).Msg("retirement gave up; worker restored to running")
}

// finishRetire closes and/or deregisters a fully drained worker per opts. A
// close-RPC failure is logged but never blocks deregistration: a dead
// worker can't be told to close itself and still needs to leave the set.
func (m *Manager) finishRetire(ctx context.Context, addr string, opts RetireOptions) {
	if opts.CloseWorkers {
		if err := m.dispatcher.CloseWorker(ctx, addr); err != nil {
			m.logger.Warn().Str("worker", addr).Err(err).Msg("close-worker RPC failed")
		}
	}

	if opts.SkipDeregister {
		w, err := m.store.GetWorker(addr)
		if err != nil {
			m.logger.Warn().Str("worker", addr).Err(err).Msg("could not finalize retired worker")
			return
		}
		w.Status = types.WorkerStatusClosed
		if err := m.store.UpdateWorker(w); err != nil {
			m.logger.Warn().Str("worker", addr).Err(err).Msg("could not finalize retired worker")
			return
		}
	} else if err := m.store.DeleteWorker(addr); err != nil {
		m.logger.Warn().Str("worker", addr).Err(err).Msg("could not deregister retired worker")
		return
	}

	m.broker.Publish(&events.Event{
		Type:     events.EventWorkerRetired,
		Metadata: map[string]string{"worker": addr},
	})
	m.logger.Info().Str("worker", addr).Bool("closed", opts.CloseWorkers).
		Bool("deregistered", !opts.SkipDeregister).Msg("worker fully drained and retired")
}
