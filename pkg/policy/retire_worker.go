package policy

import (
	"context"

	"github.com/cuemby/amm/pkg/log"
	"github.com/cuemby/amm/pkg/types"
)

// maxNoProgressAttempts bounds how many consecutive ticks RetireWorker will
// tolerate with no change in the target's replica count before the
// retirement workflow (pkg/amm) is told to give up.
const maxNoProgressAttempts = 10

// RetireWorker drains a single worker being retired: it replicates the
// worker's unique keys elsewhere and drops its copies once a safe
// replacement holder exists. It removes itself only when the target has
// left the worker set or it has given up; once the target is empty the
// retirement workflow (pkg/amm) removes it.
type RetireWorker struct {
	target string

	lastHasWhat      int
	noProgressStreak int
	gaveUp           bool
}

// NewRetireWorker installs a RetireWorker policy for the given worker
// address. lastHasWhat starts at -1 so the first tick never counts as a
// no-progress tick.
func NewRetireWorker(target string) *RetireWorker {
	return &RetireWorker{target: target, lastHasWhat: -1}
}

func (p *RetireWorker) Name() string { return "RetireWorker(" + p.target + ")" }

// GaveUp reports whether this policy has exhausted its no-progress budget.
// The retirement workflow polls this to decide when to restore the worker
// to running rather than wait forever.
func (p *RetireWorker) GaveUp() bool { return p.gaveUp }

// Done reports whether the target worker has been fully drained.
func (p *RetireWorker) Done(h Handle) bool {
	workers, err := h.Workers()
	if err != nil {
		return false
	}
	for _, w := range workers {
		if w.Address == p.target {
			return len(w.HasWhat) == 0
		}
	}
	// Worker no longer in the scheduler at all: nothing left to drain.
	return true
}

func (p *RetireWorker) Run(ctx context.Context, h Handle) Iterator {
	logger := log.WithComponent("policy.retire-worker").With().Str("target", p.target).Logger()

	workers, err := h.Workers()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list workers")
		return NewSliceIterator(nil)
	}

	var target *types.Worker
	runningByAddr := map[string]*types.Worker{}
	for _, w := range workers {
		if w.Address == p.target {
			target = w
		}
		if w.Status == types.WorkerStatusRunning {
			runningByAddr[w.Address] = w
		}
	}

	if target == nil {
		// The worker has already left the cluster; nothing more to do.
		h.RemovePolicy(p.Name())
		return NewSliceIterator(nil)
	}

	if len(target.HasWhat) == p.lastHasWhat {
		p.noProgressStreak++
	} else {
		p.noProgressStreak = 0
	}
	p.lastHasWhat = len(target.HasWhat)
	if p.noProgressStreak >= maxNoProgressAttempts {
		p.gaveUp = true
		logger.Warn().Int("streak", p.noProgressStreak).
			Msg("giving up on retirement: no progress across consecutive ticks")
		h.RemovePolicy(p.Name())
		return NewSliceIterator(nil)
	}

	tasks, err := h.Tasks()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list tasks")
		return NewSliceIterator(nil)
	}
	byKey := map[string]*types.Task{}
	for _, t := range tasks {
		byKey[t.Key] = t
	}

	var suggestions []types.Suggestion
	anyUniqueKey := false
	for _, key := range target.HasWhat {
		task, ok := byKey[key]
		if !ok || task.State != types.TaskStateMemory {
			continue
		}

		hasOtherRunningHolder := false
		for _, addr := range task.WhoHas {
			if addr == p.target {
				continue
			}
			if w, ok := runningByAddr[addr]; ok && w.Status == types.WorkerStatusRunning {
				hasOtherRunningHolder = true
				break
			}
		}

		if hasOtherRunningHolder {
			suggestions = append(suggestions, types.Suggestion{
				Op:         types.OpDrop,
				TaskKey:    key,
				Candidates: types.CandidateSet(p.target),
			})
			continue
		}

		// No surviving holder yet: replicate anywhere eligible, and also
		// suggest the drop now. The arbiter will reject the drop until the
		// replicate lands, which a later tick then allows.
		anyUniqueKey = true
		suggestions = append(suggestions,
			types.Suggestion{Op: types.OpReplicate, TaskKey: key, Candidates: types.AnyCandidate},
			types.Suggestion{Op: types.OpDrop, TaskKey: key, Candidates: types.CandidateSet(p.target)},
		)
	}

	if anyUniqueKey && len(runningByAddr) == 0 {
		logger.Debug().Msg("no eligible recipients for unique keys this tick")
	}

	return NewSliceIterator(suggestions)
}
