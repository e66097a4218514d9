package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/gantry/internal/model"
)

const runColumns = `id, task_id, application_id, gateway_id, state, message,
	retryable, error_kind, duration_ms, created_at, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.TaskRun, error) {
	r := &model.TaskRun{}
	err := sc.Scan(
		&r.ID, &r.TaskID, &r.ApplicationID, &r.GatewayID, &r.State, &r.Message,
		&r.Retryable, &r.ErrorKind, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	)
	return r, err
}

// CreateRun inserts a new run record.
func (s *SQLStore) CreateRun(ctx context.Context, r *model.TaskRun) error {
	_, err := s.exec(ctx,
		`INSERT INTO task_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.ApplicationID, r.GatewayID, r.State, r.Message,
		r.Retryable, r.ErrorKind, r.DurationMS, r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLStore) GetRun(ctx context.Context, id string) (*model.TaskRun, error) {
	r, err := scanRun(s.queryRow(ctx, `SELECT `+runColumns+` FROM task_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// GetLatestRun retrieves the most recent run of a task.
func (s *SQLStore) GetLatestRun(ctx context.Context, taskID string) (*model.TaskRun, error) {
	r, err := scanRun(s.queryRow(ctx,
		`SELECT `+runColumns+` FROM task_runs WHERE task_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC,
// along with the total count of all runs.
func (s *SQLStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.TaskRun, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx, s.d.rebind(
		`SELECT `+runColumns+` FROM task_runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.TaskRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// currentState reads the state of a run inside tx.
func (s *SQLStore) currentState(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var state string
	err := tx.QueryRowContext(ctx, s.d.rebind("SELECT state FROM task_runs WHERE id = ?"), id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get run state: %w", err)
	}
	return state, nil
}

// UpdateRunState moves a run to a non-terminal state. Entering input staging
// stamps started_at.
func (s *SQLStore) UpdateRunState(ctx context.Context, id, state string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := s.currentState(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, state)
	}

	if state == model.StateInputStaging {
		_, err = tx.ExecContext(ctx, s.d.rebind(
			"UPDATE task_runs SET state = ?, started_at = ? WHERE id = ?"),
			state, time.Now().UTC(), id,
		)
	} else {
		_, err = tx.ExecContext(ctx, s.d.rebind(
			"UPDATE task_runs SET state = ? WHERE id = ?"),
			state, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}

	return tx.Commit()
}

// FinishRun records the terminal state and outcome fields of a run.
func (s *SQLStore) FinishRun(ctx context.Context, r *model.TaskRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := s.currentState(ctx, tx, r.ID)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, r.State) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, r.State)
	}

	finishedAt := r.FinishedAt
	if finishedAt == nil {
		now := time.Now().UTC()
		finishedAt = &now
	}

	_, err = tx.ExecContext(ctx, s.d.rebind(
		`UPDATE task_runs SET state = ?, message = ?, retryable = ?, error_kind = ?,
			duration_ms = ?, finished_at = ? WHERE id = ?`),
		r.State, r.Message, r.Retryable, r.ErrorKind, r.DurationMS, finishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	return tx.Commit()
}

// GetRunStats returns aggregate statistics across all runs.
func (s *SQLStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByState: make(map[string]int),
		CountByKind:  make(map[string]int),
	}

	rows, err := s.query(ctx, "SELECT state, COUNT(*) FROM task_runs GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		stats.CountByState[state] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}

	rows, err = s.query(ctx, "SELECT error_kind, COUNT(*) FROM task_runs WHERE error_kind <> '' GROUP BY error_kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.CountByKind[kind] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.queryRow(ctx,
		"SELECT AVG(duration_ms) FROM task_runs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// InsertEvent appends a progress line to a run.
func (s *SQLStore) InsertEvent(ctx context.Context, runID string, seq int, line string) error {
	_, err := s.exec(ctx,
		"INSERT INTO task_events (run_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		runID, seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvents returns the progress lines of a run ordered by seq.
func (s *SQLStore) GetEvents(ctx context.Context, runID string) ([]model.TaskEvent, error) {
	rows, err := s.query(ctx,
		"SELECT id, run_id, seq, line, created_at FROM task_events WHERE run_id = ? ORDER BY seq",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []model.TaskEvent
	for rows.Next() {
		var e model.TaskEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.Line, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
