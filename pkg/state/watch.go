package state

import (
	"github.com/cuemby/amm/pkg/events"
	"github.com/cuemby/amm/pkg/types"
)

// WatchingStore wraps a Store and publishes worker join/leave events to a
// Broker, supplementing the read-only Store interface with the add/remove
// worker status stream the AMM's CLI and tests can watch independently of
// the tick loop's own polling (original_source's Cluster._watch_worker_status
// kept worker membership watching separate from scheduling decisions; this
// mirrors that separation).
type WatchingStore struct {
	Store
	broker *events.Broker
}

// NewWatchingStore wraps store so that CreateWorker/DeleteWorker publish
// worker.joined/worker.left events on broker.
func NewWatchingStore(store Store, broker *events.Broker) *WatchingStore {
	return &WatchingStore{Store: store, broker: broker}
}

// CreateWorker registers worker and publishes a worker.joined event.
func (w *WatchingStore) CreateWorker(worker *types.Worker) error {
	if err := w.Store.CreateWorker(worker); err != nil {
		return err
	}
	w.broker.Publish(&events.Event{
		Type:     events.EventWorkerJoined,
		Message:  "worker joined: " + worker.Address,
		Metadata: map[string]string{"address": worker.Address},
	})
	return nil
}

// DeleteWorker removes worker and publishes a worker.left event.
func (w *WatchingStore) DeleteWorker(addr string) error {
	if err := w.Store.DeleteWorker(addr); err != nil {
		return err
	}
	w.broker.Publish(&events.Event{
		Type:     events.EventWorkerLeft,
		Message:  "worker left: " + addr,
		Metadata: map[string]string{"address": addr},
	})
	return nil
}

// UpdateWorker updates worker and, when its status transitions to
// closing_gracefully, publishes a worker.retiring event.
func (w *WatchingStore) UpdateWorker(worker *types.Worker) error {
	if err := w.Store.UpdateWorker(worker); err != nil {
		return err
	}
	if worker.Status == types.WorkerStatusClosingGracefully {
		w.broker.Publish(&events.Event{
			Type:     events.EventWorkerRetiring,
			Message:  "worker retiring: " + worker.Address,
			Metadata: map[string]string{"address": worker.Address},
		})
	}
	return nil
}
