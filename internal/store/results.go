package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Roles and result types recorded per agent invocation.
const (
	RoleAuthor   = "author"
	RoleReviewer = "reviewer"

	ResultTypeStatus  = "status"
	ResultTypeVerdict = "verdict"
)

// AgentResult is one recorded agent invocation. The composite key
// (run, phase, iteration, role, template, result type) makes step recording
// idempotent on resume.
type AgentResult struct {
	ID         string
	RunID      string
	Phase      string
	Iteration  int
	Role       string
	Template   string
	ResultType string
	ResultJSON string
	DurationMS int64
	LogPath    string
	SessionID  string
	Model      string
	TokensIn   int64
	TokensOut  int64
	CostUSD    *float64
}

// UpsertAgentResult writes an agent result. A second write with the same
// composite key overwrites the stored body.
func (s *Store) UpsertAgentResult(ctx context.Context, r AgentResult) error {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO agent_results(id, run_id, phase, iteration, role, template, result_type, result_json, duration_ms, log_path, session_id, model, tokens_in, tokens_out, cost_usd, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, phase, iteration, role, template, result_type) DO UPDATE SET
			result_json=excluded.result_json,
			duration_ms=excluded.duration_ms,
			log_path=excluded.log_path,
			session_id=excluded.session_id,
			model=excluded.model,
			tokens_in=excluded.tokens_in,
			tokens_out=excluded.tokens_out,
			cost_usd=excluded.cost_usd`,
		id, r.RunID, r.Phase, r.Iteration, r.Role, r.Template, r.ResultType, r.ResultJSON,
		r.DurationMS, r.LogPath, r.SessionID, r.Model, r.TokensIn, r.TokensOut, nullableFloatPtr(r.CostUSD), now())
	if err != nil {
		return fmt.Errorf("upsert agent result: %w", err)
	}
	return nil
}

// HasCompletedStep reports whether an agent result exists for the step key.
// This is the resume read path.
func (s *Store) HasCompletedStep(ctx context.Context, runID, role, phase string, iteration int, template, resultType string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM agent_results WHERE run_id=? AND role=? AND phase=? AND iteration=? AND template=? AND result_type=?)`,
		runID, role, phase, iteration, template, resultType)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check completed step: %w", err)
	}
	return exists, nil
}

// GetStepResult returns the stored agent result for the step key.
func (s *Store) GetStepResult(ctx context.Context, runID, role, phase string, iteration int, template, resultType string) (AgentResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, run_id, phase, iteration, role, template, result_type, result_json, duration_ms, log_path, session_id, model, tokens_in, tokens_out, cost_usd
		FROM agent_results WHERE run_id=? AND role=? AND phase=? AND iteration=? AND template=? AND result_type=?`,
		runID, role, phase, iteration, template, resultType)
	return scanAgentResult(row)
}

// ListAgentResults returns all agent results for a run ordered by phase and
// iteration.
func (s *Store) ListAgentResults(ctx context.Context, runID string) ([]AgentResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, run_id, phase, iteration, role, template, result_type, result_json, duration_ms, log_path, session_id, model, tokens_in, tokens_out, cost_usd
		FROM agent_results WHERE run_id=? ORDER BY phase, iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("query agent results: %w", err)
	}
	defer rows.Close()
	var out []AgentResult
	for rows.Next() {
		r, err := scanAgentResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent results: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentResult(row rowScanner) (AgentResult, error) {
	var r AgentResult
	var cost sql.NullFloat64
	if err := row.Scan(&r.ID, &r.RunID, &r.Phase, &r.Iteration, &r.Role, &r.Template, &r.ResultType, &r.ResultJSON,
		&r.DurationMS, &r.LogPath, &r.SessionID, &r.Model, &r.TokensIn, &r.TokensOut, &cost); err != nil {
		if err == sql.ErrNoRows {
			return AgentResult{}, fmt.Errorf("agent result not found")
		}
		return AgentResult{}, fmt.Errorf("scan agent result: %w", err)
	}
	if cost.Valid {
		v := cost.Float64
		r.CostUSD = &v
	}
	return r, nil
}

// GetMaxIterationForPhase returns the highest recorded iteration for
// (run, phase), or -1 when no results exist.
func (s *Store) GetMaxIterationForPhase(ctx context.Context, runID, phase string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(iteration), -1) FROM agent_results WHERE run_id=? AND phase=?`, runID, phase)
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("read max iteration: %w", err)
	}
	return max, nil
}

// QualityResult is one quality-gate attempt.
type QualityResult struct {
	RunID       string
	Phase       string
	Attempt     int
	Passed      bool
	ResultsJSON string
	DurationMS  int64
}

// InsertQualityResult records a quality-gate attempt.
func (s *Store) InsertQualityResult(ctx context.Context, q QualityResult) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO quality_results(run_id, phase, attempt, passed, results, duration_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, phase, attempt) DO UPDATE SET
			passed=excluded.passed,
			results=excluded.results,
			duration_ms=excluded.duration_ms`,
		q.RunID, q.Phase, q.Attempt, boolToInt(q.Passed), q.ResultsJSON, q.DurationMS, now())
	if err != nil {
		return fmt.Errorf("insert quality result: %w", err)
	}
	return nil
}

// GetQualityAttemptCount returns how many quality attempts are recorded for
// (run, phase).
func (s *Store) GetQualityAttemptCount(ctx context.Context, runID, phase string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quality_results WHERE run_id=? AND phase=?`, runID, phase)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count quality attempts: %w", err)
	}
	return n, nil
}

// PhaseProgress is the durable gating record per (plan, phase). The approved
// flag, not the plan document checklist, decides whether a phase is pending.
type PhaseProgress struct {
	PlanPath           string
	Phase              string
	ImplementationDone bool
	ReviewOutcome      string
	Approved           bool
	Reason             string
}

// GetApprovedPhaseNumbers returns the set of approved phases for a plan.
func (s *Store) GetApprovedPhaseNumbers(ctx context.Context, planPath string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phase FROM phase_progress WHERE plan_path=? AND approved=1`, planPath)
	if err != nil {
		return nil, fmt.Errorf("query approved phases: %w", err)
	}
	defer rows.Close()
	approved := make(map[string]bool)
	for rows.Next() {
		var phase string
		if err := rows.Scan(&phase); err != nil {
			return nil, fmt.Errorf("scan approved phase: %w", err)
		}
		approved[phase] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approved phases: %w", err)
	}
	return approved, nil
}

// SetPhaseReviewApproved upserts the approved flag for (plan, phase).
// The write is idempotent.
func (s *Store) SetPhaseReviewApproved(ctx context.Context, planPath, phase string, approved bool, reason string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO phase_progress(plan_path, phase, approved, reason, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(plan_path, phase) DO UPDATE SET
			approved=excluded.approved,
			reason=excluded.reason,
			updated_at=excluded.updated_at`,
		planPath, phase, boolToInt(approved), reason, now())
	if err != nil {
		return fmt.Errorf("set phase approved: %w", err)
	}
	return nil
}

// SetPhaseReviewOutcome upserts the latest reviewer readiness for (plan, phase).
func (s *Store) SetPhaseReviewOutcome(ctx context.Context, planPath, phase, outcome string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO phase_progress(plan_path, phase, review_outcome, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(plan_path, phase) DO UPDATE SET
			review_outcome=excluded.review_outcome,
			updated_at=excluded.updated_at`,
		planPath, phase, outcome, now())
	if err != nil {
		return fmt.Errorf("set phase review outcome: %w", err)
	}
	return nil
}

// MarkPhaseImplementationDone upserts the implementation_done flag for
// (plan, phase).
func (s *Store) MarkPhaseImplementationDone(ctx context.Context, planPath, phase string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO phase_progress(plan_path, phase, implementation_done, updated_at)
		VALUES(?, ?, 1, ?)
		ON CONFLICT(plan_path, phase) DO UPDATE SET
			implementation_done=1,
			updated_at=excluded.updated_at`,
		planPath, phase, now())
	if err != nil {
		return fmt.Errorf("mark phase implementation done: %w", err)
	}
	return nil
}

// GetPhaseProgress returns all progress rows for a plan.
func (s *Store) GetPhaseProgress(ctx context.Context, planPath string) ([]PhaseProgress, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plan_path, phase, implementation_done, review_outcome, approved, reason
		FROM phase_progress WHERE plan_path=? ORDER BY phase`, planPath)
	if err != nil {
		return nil, fmt.Errorf("query phase progress: %w", err)
	}
	defer rows.Close()
	var out []PhaseProgress
	for rows.Next() {
		var p PhaseProgress
		var implDone, approved int
		if err := rows.Scan(&p.PlanPath, &p.Phase, &implDone, &p.ReviewOutcome, &approved, &p.Reason); err != nil {
			return nil, fmt.Errorf("scan phase progress: %w", err)
		}
		p.ImplementationDone = implDone != 0
		p.Approved = approved != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase progress: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableFloatPtr(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}
