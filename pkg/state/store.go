package state

import "github.com/cuemby/amm/pkg/types"

// Store is the AMM's view of the scheduler's task/worker state. The AMM's
// policies and arbiter only call the List/Get methods; the retirement
// workflow also calls UpdateWorker and DeleteWorker. The other
// Create/Update/Delete methods exist for the FSM to apply replicated writes
// and for the worker simulation harness and tests to seed state.
type Store interface {
	CreateTask(task *types.Task) error
	GetTask(key string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(key string) error

	CreateWorker(worker *types.Worker) error
	GetWorker(addr string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error
	DeleteWorker(addr string) error

	Close() error
}
