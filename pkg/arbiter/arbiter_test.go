package arbiter

import (
	"testing"

	"github.com/cuemby/amm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningWorker(addr string, used, limit int64) *types.Worker {
	return &types.Worker{
		Address:          addr,
		Status:           types.WorkerStatusRunning,
		MemoryUsed:       used,
		MemoryOptimistic: used,
		MemoryLimit:      limit,
	}
}

func TestConsumeDrop_RejectsLastReplica(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a"}}
	a := New([]*types.Task{task}, []*types.Worker{runningWorker("a", 0, 100)})

	d, err := a.Consume(types.Suggestion{Op: types.OpDrop, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonLessThanTwoReplicas, d.Reason)
}

func TestConsumeDrop_AcceptsExtraReplica(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a", "b"}}
	a := New([]*types.Task{task}, []*types.Worker{
		runningWorker("a", 10, 100),
		runningWorker("b", 90, 100),
	})

	d, err := a.Consume(types.Suggestion{Op: types.OpDrop, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	require.True(t, d.Accepted)
	// b has less free memory (10) than a (90), so b is dropped first.
	assert.Equal(t, "b", d.Worker)
}

func TestConsumeDrop_PrefersPausedWorker(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a", "b"}}
	paused := runningWorker("a", 10, 100)
	paused.Status = types.WorkerStatusPaused
	a := New([]*types.Task{task}, []*types.Worker{
		paused,
		runningWorker("b", 10, 100),
	})

	d, err := a.Consume(types.Suggestion{Op: types.OpDrop, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	require.True(t, d.Accepted)
	assert.Equal(t, "a", d.Worker)
}

func TestConsumeDrop_BadCandidateRejected(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a", "b"}}
	a := New([]*types.Task{task}, []*types.Worker{
		runningWorker("a", 10, 100),
		runningWorker("b", 10, 100),
	})

	d, err := a.Consume(types.Suggestion{
		Op: types.OpDrop, TaskKey: "x",
		Candidates: types.CandidateSet("nonexistent"),
	})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonNoCandidateHoldsKey, d.Reason)
}

func TestConsumeDrop_EmptyCandidatesIsSilentNoOp(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a", "b"}}
	a := New([]*types.Task{task}, []*types.Worker{
		runningWorker("a", 10, 100),
		runningWorker("b", 10, 100),
	})

	d, err := a.Consume(types.Suggestion{Op: types.OpDrop, TaskKey: "x", Candidates: types.CandidateSet()})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.True(t, d.Silent)
}

func TestConsumeDrop_WaitersStranded(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a", "b"}, Waiters: []string{"y"}}
	busy := runningWorker("a", 10, 100)
	busy.Processing = []string{"x"}
	busyToo := runningWorker("b", 10, 100)
	busyToo.Processing = []string{"x"}
	a := New([]*types.Task{task}, []*types.Worker{busy, busyToo})

	d, err := a.Consume(types.Suggestion{Op: types.OpDrop, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonWaitersStranded, d.Reason)
}

func TestConsumeReplicate_AcceptsLeastLoadedWorker(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a"}}
	a := New([]*types.Task{task}, []*types.Worker{
		runningWorker("a", 10, 100),
		runningWorker("b", 90, 100),
		runningWorker("c", 10, 100),
	})

	d, err := a.Consume(types.Suggestion{Op: types.OpReplicate, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	require.True(t, d.Accepted)
	assert.Equal(t, "c", d.Worker)
}

func TestConsumeReplicate_RejectsWhenAllCandidatesHoldKey(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a"}}
	a := New([]*types.Task{task}, []*types.Worker{runningWorker("a", 10, 100)})

	d, err := a.Consume(types.Suggestion{
		Op: types.OpReplicate, TaskKey: "x",
		Candidates: types.CandidateSet("a"),
	})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonAllCandidatesHoldKey, d.Reason)
}

func TestConsumeReplicate_RejectsWhenAllRecipientsPaused(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a"}}
	paused := runningWorker("b", 10, 100)
	paused.Status = types.WorkerStatusPaused
	a := New([]*types.Task{task}, []*types.Worker{runningWorker("a", 10, 100), paused})

	d, err := a.Consume(types.Suggestion{Op: types.OpReplicate, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonAllRecipientsPaused, d.Reason)
}

func TestConsumeReplicate_RetiringWorkerExcluded(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a"}}
	retiring := runningWorker("b", 10, 100)
	retiring.Status = types.WorkerStatusClosingGracefully
	a := New([]*types.Task{task}, []*types.Worker{runningWorker("a", 10, 100), retiring})

	d, err := a.Consume(types.Suggestion{Op: types.OpReplicate, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonAllRecipientsPaused, d.Reason)
}

func TestConsume_NotInMemoryRejected(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateProcessing, WhoHas: []string{"a", "b"}}
	a := New([]*types.Task{task}, []*types.Worker{runningWorker("a", 10, 100), runningWorker("b", 10, 100)})

	d, err := a.Consume(types.Suggestion{Op: types.OpDrop, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonNotInMemory, d.Reason)
}

func TestConsume_UnknownTaskIsInvalid(t *testing.T) {
	a := New(nil, nil)
	_, err := a.Consume(types.Suggestion{Op: types.OpDrop, TaskKey: "ghost", Candidates: types.AnyCandidate})
	assert.ErrorIs(t, err, ErrInvalidSuggestion)
}

func TestConsumeDrop_ExcludesWorkerAlreadyPendingAdd(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a", "c"}}
	a := New([]*types.Task{task}, []*types.Worker{
		runningWorker("a", 50, 100),
		runningWorker("c", 50, 100),
		runningWorker("b", 0, 100), // most free memory: replicate target
	})

	d1, err := a.Consume(types.Suggestion{Op: types.OpReplicate, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	require.True(t, d1.Accepted)
	require.Equal(t, "b", d1.Worker)

	// b is now a pending replication recipient for this task; a drop naming
	// it as the only candidate must be rejected, not accepted into
	// pending_remove alongside pending_add.
	d2, err := a.Consume(types.Suggestion{
		Op: types.OpDrop, TaskKey: "x",
		Candidates: types.CandidateSet("b"),
	})
	require.NoError(t, err)
	assert.False(t, d2.Accepted)
	assert.Equal(t, ReasonNoCandidateHoldsKey, d2.Reason)

	tx := a.Transactions()["x"]
	assert.NotContains(t, tx.PendingRemove, "b")
}

func TestConsumeReplicate_ExcludesWorkerAlreadyPendingRemove(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a", "c"}}
	a := New([]*types.Task{task}, []*types.Worker{
		runningWorker("a", 90, 100), // least free memory: drop source
		runningWorker("c", 10, 100),
	})

	d1, err := a.Consume(types.Suggestion{
		Op: types.OpDrop, TaskKey: "x",
		Candidates: types.CandidateSet("a"),
	})
	require.NoError(t, err)
	require.True(t, d1.Accepted)
	require.Equal(t, "a", d1.Worker)

	// a is now a pending drop source for this task; a replicate naming it
	// as the only candidate must be rejected, not accepted into pending_add
	// alongside pending_remove.
	d2, err := a.Consume(types.Suggestion{
		Op: types.OpReplicate, TaskKey: "x",
		Candidates: types.CandidateSet("a"),
	})
	require.NoError(t, err)
	assert.False(t, d2.Accepted)
	assert.Equal(t, ReasonAllCandidatesHoldKey, d2.Reason)

	tx := a.Transactions()["x"]
	assert.NotContains(t, tx.PendingAdd, "a")
}

func TestEffectiveHolders_TracksPendingAcrossSuggestions(t *testing.T) {
	task := &types.Task{Key: "x", State: types.TaskStateMemory, WhoHas: []string{"a"}}
	a := New([]*types.Task{task}, []*types.Worker{
		runningWorker("a", 10, 100),
		runningWorker("b", 50, 100),
	})

	d1, err := a.Consume(types.Suggestion{Op: types.OpReplicate, TaskKey: "x", Candidates: types.AnyCandidate})
	require.NoError(t, err)
	require.True(t, d1.Accepted)
	assert.Equal(t, "b", d1.Worker)

	// Now that b is a pending holder too, dropping should be allowed without
	// rejecting for "less than 2 replicas exist".
	d2, err := a.Consume(types.Suggestion{
		Op: types.OpDrop, TaskKey: "x",
		Candidates: types.CandidateSet("a"),
	})
	require.NoError(t, err)
	assert.True(t, d2.Accepted)
	assert.Equal(t, "a", d2.Worker)
}
