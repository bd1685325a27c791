package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run status values.
const (
	RunActive    = "active"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunAborted   = "aborted"
)

// Commands a run can belong to.
const (
	CommandRun        = "run"
	CommandPlanReview = "plan-review"
)

// Store provides persistence for runs, agent results, events and phase
// progress. All writes go through a single connection; callers are the
// single-threaded orchestrator loop.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Run describes a run record.
type Run struct {
	ID           string
	PlanPath     string
	Command      string
	Status       string
	CurrentState string
	CurrentPhase string
	ReviewPath   string
	StartedAt    string
	UpdatedAt    string
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// CreateRun inserts a run record and its run_start event in one transaction.
func (s *Store) CreateRun(ctx context.Context, planPath, command, reviewPath string) (string, error) {
	runID := uuid.NewString()
	ts := now()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id, plan_path, command, status, current_state, current_phase, review_path, started_at, updated_at)
		VALUES(?, ?, ?, ?, '', '', ?, ?, ?)`,
		runID, planPath, command, RunActive, reviewPath, ts, ts); err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("insert run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, RunEvent{RunID: runID, Type: EventRunStart}); err != nil {
		_ = tx.Rollback()
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create run: %w", err)
	}
	return runID, nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, plan_path, command, status, current_state, current_phase, review_path, started_at, updated_at
		FROM runs WHERE id=?`, runID)
	var r Run
	if err := row.Scan(&r.ID, &r.PlanPath, &r.Command, &r.Status, &r.CurrentState, &r.CurrentPhase, &r.ReviewPath, &r.StartedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, fmt.Errorf("run %s not found", runID)
		}
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	return r, nil
}

// GetActiveRun returns the active run for (planPath, command), or nil if none
// exists. At most one active run per pair is maintained by the orchestrator.
func (s *Store) GetActiveRun(ctx context.Context, planPath, command string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, plan_path, command, status, current_state, current_phase, review_path, started_at, updated_at
		FROM runs WHERE plan_path=? AND command=? AND status=? ORDER BY started_at DESC LIMIT 1`,
		planPath, command, RunActive)
	var r Run
	if err := row.Scan(&r.ID, &r.PlanPath, &r.Command, &r.Status, &r.CurrentState, &r.CurrentPhase, &r.ReviewPath, &r.StartedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("read active run: %w", err)
	}
	return &r, nil
}

// ListRuns returns runs for a plan path, newest first. An empty planPath
// lists all runs.
func (s *Store) ListRuns(ctx context.Context, planPath string) ([]Run, error) {
	query := `SELECT id, plan_path, command, status, current_state, current_phase, review_path, started_at, updated_at FROM runs`
	args := []any{}
	if planPath != "" {
		query += " WHERE plan_path=?"
		args = append(args, planPath)
	}
	query += " ORDER BY started_at DESC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.PlanPath, &r.Command, &r.Status, &r.CurrentState, &r.CurrentPhase, &r.ReviewPath, &r.StartedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// UpdateRunStatus updates a run's status and, when non-nil, its state and
// phase, as a single atomic write.
func (s *Store) UpdateRunStatus(ctx context.Context, runID, status string, state, phase *string) error {
	query := `UPDATE runs SET status=?, updated_at=?`
	args := []any{status, now()}
	if state != nil {
		query += ", current_state=?"
		args = append(args, *state)
	}
	if phase != nil {
		query += ", current_phase=?"
		args = append(args, *phase)
	}
	query += " WHERE id=?"
	args = append(args, runID)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// UpdateRunState records the current state-machine label and phase.
func (s *Store) UpdateRunState(ctx context.Context, runID, state, phase string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET current_state=?, current_phase=?, updated_at=? WHERE id=?`,
		state, phase, now(), runID)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// SetRunReviewPath records the resolved review file for a run.
func (s *Store) SetRunReviewPath(ctx context.Context, runID, reviewPath string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE runs SET review_path=?, updated_at=? WHERE id=?`,
		reviewPath, now(), runID); err != nil {
		return fmt.Errorf("update run review path: %w", err)
	}
	return nil
}

// RunEvent is a row in the append-only per-run event log.
type RunEvent struct {
	RunID     string
	Seq       int
	Type      string
	Phase     string
	Iteration int
	DataJSON  string
	TS        string
}

// AppendRunEvent appends an event with the next sequence number for the run.
func (s *Store) AppendRunEvent(ctx context.Context, ev RunEvent) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin append event: %w", err)
	}
	if err := s.insertEvent(ctx, tx, ev); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append event: %w", err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, ev RunEvent) error {
	seq, err := s.nextSeq(ctx, tx, ev.RunID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO run_events(run_id, seq, event_type, phase, iteration, data_json, ts)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, seq, ev.Type, ev.Phase, ev.Iteration, nullableString(ev.DataJSON), now()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM run_events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

// ListRunEvents returns all events for a run in sequence order.
func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, seq, event_type, phase, iteration, data_json, ts
		FROM run_events WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []RunEvent
	for rows.Next() {
		var ev RunEvent
		var data sql.NullString
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Type, &ev.Phase, &ev.Iteration, &data, &ev.TS); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if data.Valid {
			ev.DataJSON = data.String
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
