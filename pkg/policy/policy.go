// Package policy defines the suggestion-producer contract the active memory
// manager's arbiter consumes, plus the two built-in policies: ReduceReplicas
// and RetireWorker.
package policy

import (
	"context"
	"fmt"

	"github.com/cuemby/amm/pkg/types"
)

// Handle is the scheduler-state view a Policy consults while it runs: the
// task and worker lists the manager read at the start of the tick.
// It is assigned by the manager before a policy's first tick.
type Handle interface {
	Tasks() ([]*types.Task, error)
	Workers() ([]*types.Worker, error)
	// RemovePolicy deregisters the named policy; used by RetireWorker to
	// self-remove once the target worker has left the worker set or the
	// policy has given up.
	RemovePolicy(name string)
}

// Policy is a stateful, lazy producer of suggestions. Run must not block on
// anything other than yielding to the Iterator it returns.
type Policy interface {
	Name() string
	Run(ctx context.Context, h Handle) Iterator
}

// Iterator produces one Suggestion at a time. Next returns ok == false once
// the sequence is exhausted; a non-nil error aborts the policy for the rest
// of the tick without affecting other policies.
type Iterator interface {
	Next(ctx context.Context) (suggestion types.Suggestion, ok bool, err error)
}

// sliceIterator adapts a pre-materialized slice to Iterator — the cheap path
// used by ReduceReplicas and RetireWorker, both of which can enumerate their
// full suggestion list up front without observing the arbiter's in-tick
// decisions.
type sliceIterator struct {
	items []types.Suggestion
	pos   int
}

// NewSliceIterator returns an Iterator over a pre-computed suggestion list.
func NewSliceIterator(items []types.Suggestion) Iterator {
	return &sliceIterator{items: items}
}

func (s *sliceIterator) Next(ctx context.Context) (types.Suggestion, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Suggestion{}, false, err
	}
	if s.pos >= len(s.items) {
		return types.Suggestion{}, false, nil
	}
	item := s.items[s.pos]
	s.pos++
	return item, true, nil
}

// ErrPolicyPanic wraps a recovered panic from a policy's Run, so the manager
// can log it as a programming error and skip the policy for the rest of the
// tick without crashing.
type ErrPolicyPanic struct {
	Policy string
	Cause  interface{}
}

func (e *ErrPolicyPanic) Error() string {
	return fmt.Sprintf("policy %q panicked: %v", e.Policy, e.Cause)
}
