package policy

import (
	"context"
	"fmt"

	"github.com/cuemby/amm/pkg/log"
	"github.com/cuemby/amm/pkg/types"
)

// ReduceReplicas suggests dropping every replica of a task beyond the
// first. It carries no state across ticks and is deterministically quiet
// once who_has has settled to one holder per task.
type ReduceReplicas struct{}

// NewReduceReplicas returns a ready-to-register ReduceReplicas policy.
func NewReduceReplicas() *ReduceReplicas {
	return &ReduceReplicas{}
}

func (p *ReduceReplicas) Name() string { return "ReduceReplicas" }

func (p *ReduceReplicas) Run(ctx context.Context, h Handle) Iterator {
	tasks, err := h.Tasks()
	if err != nil {
		log.WithComponent("policy.reduce-replicas").Error().Err(err).Msg("failed to list tasks")
		return NewSliceIterator(nil)
	}

	var suggestions []types.Suggestion
	droppedTasks := 0
	totalDrops := 0
	for _, task := range tasks {
		if task.State != types.TaskStateMemory {
			continue
		}
		if len(task.WhoHas) < 2 {
			continue
		}
		n := len(task.WhoHas) - 1
		for i := 0; i < n; i++ {
			suggestions = append(suggestions, types.Suggestion{
				Op:         types.OpDrop,
				TaskKey:    task.Key,
				Candidates: types.AnyCandidate,
			})
		}
		droppedTasks++
		totalDrops += n
	}

	if totalDrops > 0 {
		log.WithComponent("policy.reduce-replicas").Debug().
			Msg(fmt.Sprintf("Dropping %d superfluous replicas of %d tasks", totalDrops, droppedTasks))
	}

	return NewSliceIterator(suggestions)
}
