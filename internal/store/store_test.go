package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "5x.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestCreateAndGetActiveRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, "/p/plan.md", CommandRun, "")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	active, err := s.GetActiveRun(ctx, "/p/plan.md", CommandRun)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, runID, active.ID)
	assert.Equal(t, RunActive, active.Status)

	// A different command has no active run.
	active, err = s.GetActiveRun(ctx, "/p/plan.md", CommandPlanReview)
	require.NoError(t, err)
	assert.Nil(t, active)

	// Completing the run clears the active slot.
	require.NoError(t, s.UpdateRunStatus(ctx, runID, RunCompleted, nil, nil))
	active, err = s.GetActiveRun(ctx, "/p/plan.md", CommandRun)
	require.NoError(t, err)
	assert.Nil(t, active)

	// run_start event was written.
	events, err := s.ListRunEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventRunStart, events[0].Type)
	assert.Equal(t, 1, events[0].Seq)
}

func TestUpdateRunState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, "/p/plan.md", CommandRun, "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateRunState(ctx, runID, "QUALITY_CHECK", "1"))
	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "QUALITY_CHECK", run.CurrentState)
	assert.Equal(t, "1", run.CurrentPhase)

	assert.Error(t, s.UpdateRunState(ctx, "missing", "EXECUTE", "1"))
}

func TestAppendRunEventSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, "/p/plan.md", CommandRun, "")
	require.NoError(t, err)

	for _, typ := range []string{EventPhaseStart, EventAgentInvoke, EventVerdict, EventPhaseComplete} {
		require.NoError(t, s.AppendRunEvent(ctx, RunEvent{RunID: runID, Type: typ, Phase: "1"}))
	}

	events, err := s.ListRunEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 5) // run_start + 4
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq)
	}
	assert.Equal(t, EventPhaseComplete, events[4].Type)
}

func TestUpsertAgentResultIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, "/p/plan.md", CommandRun, "")
	require.NoError(t, err)

	cost := 0.0
	r := AgentResult{
		RunID:      runID,
		Phase:      "1",
		Iteration:  0,
		Role:       RoleAuthor,
		Template:   "author-phase",
		ResultType: ResultTypeStatus,
		ResultJSON: `{"result":"complete","commit":"abc123"}`,
		SessionID:  "sess-1",
		Model:      "anthropic/claude",
		CostUSD:    &cost,
	}
	require.NoError(t, s.UpsertAgentResult(ctx, r))

	done, err := s.HasCompletedStep(ctx, runID, RoleAuthor, "1", 0, "author-phase", ResultTypeStatus)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.HasCompletedStep(ctx, runID, RoleAuthor, "1", 1, "author-phase", ResultTypeStatus)
	require.NoError(t, err)
	assert.False(t, done)

	// Overwrite with the same key keeps a single row.
	r.ResultJSON = `{"result":"complete","commit":"def456"}`
	require.NoError(t, s.UpsertAgentResult(ctx, r))

	results, err := s.ListAgentResults(ctx, runID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].ResultJSON, "def456")

	// cost_usd of zero stays distinct from unset.
	require.NotNil(t, results[0].CostUSD)
	assert.Equal(t, 0.0, *results[0].CostUSD)

	got, err := s.GetStepResult(ctx, runID, RoleAuthor, "1", 0, "author-phase", ResultTypeStatus)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
}

func TestIterationArithmetic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, "/p/plan.md", CommandRun, "")
	require.NoError(t, err)

	max, err := s.GetMaxIterationForPhase(ctx, runID, "1")
	require.NoError(t, err)
	assert.Equal(t, -1, max)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.UpsertAgentResult(ctx, AgentResult{
			RunID: runID, Phase: "1", Iteration: i,
			Role: RoleAuthor, Template: "author-phase", ResultType: ResultTypeStatus,
			ResultJSON: "{}",
		}))
	}
	max, err = s.GetMaxIterationForPhase(ctx, runID, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, max)
}

func TestQualityResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, "/p/plan.md", CommandRun, "")
	require.NoError(t, err)

	n, err := s.GetQualityAttemptCount(ctx, runID, "1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.InsertQualityResult(ctx, QualityResult{RunID: runID, Phase: "1", Attempt: 0, Passed: false, ResultsJSON: "[]"}))
	require.NoError(t, s.InsertQualityResult(ctx, QualityResult{RunID: runID, Phase: "1", Attempt: 1, Passed: true, ResultsJSON: "[]"}))

	n, err = s.GetQualityAttemptCount(ctx, runID, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPhaseProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := "/p/plan.md"

	approved, err := s.GetApprovedPhaseNumbers(ctx, plan)
	require.NoError(t, err)
	assert.Empty(t, approved)

	require.NoError(t, s.SetPhaseReviewOutcome(ctx, plan, "1", "ready"))
	require.NoError(t, s.MarkPhaseImplementationDone(ctx, plan, "1"))
	require.NoError(t, s.SetPhaseReviewApproved(ctx, plan, "1", true, ""))
	// Idempotent.
	require.NoError(t, s.SetPhaseReviewApproved(ctx, plan, "1", true, ""))

	approved, err = s.GetApprovedPhaseNumbers(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"1": true}, approved)

	progress, err := s.GetPhaseProgress(ctx, plan)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.True(t, progress[0].Approved)
	assert.True(t, progress[0].ImplementationDone)
	assert.Equal(t, "ready", progress[0].ReviewOutcome)
}

func TestRunDeletionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.CreateRun(ctx, "/p/plan.md", CommandRun, "")
	require.NoError(t, err)
	require.NoError(t, s.UpsertAgentResult(ctx, AgentResult{
		RunID: runID, Phase: "1", Iteration: 0,
		Role: RoleAuthor, Template: "author-phase", ResultType: ResultTypeStatus,
		ResultJSON: "{}",
	}))

	_, err = s.DB().ExecContext(ctx, `DELETE FROM runs WHERE id=?`, runID)
	require.NoError(t, err)

	results, err := s.ListAgentResults(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, results)
	events, err := s.ListRunEvents(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, events)
}
