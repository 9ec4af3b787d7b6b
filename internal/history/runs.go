package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zjrosen/taskhost/internal/manager"
)

// ErrNotFound is returned when no run exists for a task id.
var ErrNotFound = errors.New("run not found")

const runColumns = `id, task_id, kind, params, isolation, state, reason, signals,
	admitted_at, started_at, finished_at`

// RunRepository reads and writes the runs table.
type RunRepository struct {
	db *sql.DB
}

func newRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

var _ manager.OutcomeLoader = (*RunRepository)(nil)

func scanRun(scanner interface{ Scan(...any) error }) (*RunModel, error) {
	var m RunModel
	err := scanner.Scan(
		&m.ID, &m.TaskID, &m.Kind, &m.Params, &m.Isolation, &m.State, &m.Reason, &m.Signals,
		&m.AdmittedAt, &m.StartedAt, &m.FinishedAt,
	)
	return &m, err
}

// Save stores an outcome. Saving the same task id again replaces the row.
func (r *RunRepository) Save(ctx context.Context, o manager.Outcome) error {
	m := toRunModel(o)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (
			task_id, kind, params, isolation, state, reason, signals,
			admitted_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			state = excluded.state, reason = excluded.reason, signals = excluded.signals,
			started_at = excluded.started_at, finished_at = excluded.finished_at`,
		m.TaskID, m.Kind, m.Params, m.Isolation, m.State, m.Reason, m.Signals,
		m.AdmittedAt, m.StartedAt, m.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", o.TaskID, err)
	}
	return nil
}

// FindOutcome returns the recorded outcome of taskID.
func (r *RunRepository) FindOutcome(ctx context.Context, taskID string) (manager.Outcome, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE task_id = ?`, taskID)
	m, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return manager.Outcome{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return manager.Outcome{}, fmt.Errorf("failed to find run: %w", err)
	}
	return m.toOutcome(), nil
}

// ListFilter narrows List.
type ListFilter struct {
	State string // empty for all states
	Kind  string // empty for all kinds
	Limit int    // <= 0 for no limit
}

// List returns runs newest first.
func (r *RunRepository) List(ctx context.Context, f ListFilter) ([]manager.Outcome, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, f.State)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	query += ` ORDER BY finished_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []manager.Outcome
	for rows.Next() {
		m, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, m.toOutcome())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

// Counts returns the number of runs per state.
func (r *RunRepository) Counts(ctx context.Context) (map[manager.State]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM runs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[manager.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[manager.State(state)] = n
	}
	return out, rows.Err()
}

// Prune deletes runs that finished before the cutoff (Unix ms) and returns
// how many were removed.
func (r *RunRepository) Prune(ctx context.Context, beforeMillis int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < ?`, beforeMillis)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}
