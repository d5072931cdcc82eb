package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storyforge/pkg/db"
	"storyforge/pkg/model"
)

// ErrNotFound is returned when a job is not in the history.
var ErrNotFound = errors.New("not found")

// Fixed-width UTC layout keeps string ordering equal to time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	JobStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Jobs ---

// SaveJob upserts the latest snapshot of a job.
func (s *SQLiteStore) SaveJob(ctx context.Context, st model.JobStatus) error {
	req, err := json.Marshal(st.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	names, err := json.Marshal(st.BaseNames)
	if err != nil {
		return fmt.Errorf("failed to marshal base names: %w", err)
	}

	query := `INSERT INTO jobs (id, request, status, items_total, items_done, errors, warnings, message, base_names, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			items_total = excluded.items_total,
			items_done = excluded.items_done,
			errors = excluded.errors,
			warnings = excluded.warnings,
			message = excluded.message,
			base_names = excluded.base_names,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`

	_, err = s.db.ExecContext(ctx, query,
		st.ID, string(req), string(st.State), st.ItemsTotal, st.ItemsDone, st.Errors, st.Warnings,
		st.Message, string(names), formatTime(st.CreatedAt), formatTimePtr(st.StartedAt), formatTimePtr(st.FinishedAt))
	return err
}

// GetJob returns one job from the history.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.JobStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	st, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ListJobs returns the newest jobs first. limit <= 0 means no limit.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]model.JobStatus, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.JobStatus
	for rows.Next() {
		st, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// PruneJobs removes history entries created before the given time.
func (s *SQLiteStore) PruneJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE created_at < ?", formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkInterrupted closes out jobs left unfinished by a previous run.
func (s *SQLiteStore) MarkInterrupted(ctx context.Context, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, message = ?, finished_at = ? WHERE status IN (?, ?, ?)`,
		string(model.JobCancelled), message, formatTime(time.Now()),
		string(model.JobQueued), string(model.JobRunning), string(model.JobCancelling))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const jobColumns = `id, request, status, items_total, items_done, errors, warnings, message, base_names, created_at, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(r scanner) (*model.JobStatus, error) {
	var (
		st                model.JobStatus
		req, state        string
		message, names    sql.NullString
		created           string
		started, finished sql.NullString
	)
	if err := r.Scan(&st.ID, &req, &state, &st.ItemsTotal, &st.ItemsDone, &st.Errors, &st.Warnings,
		&message, &names, &created, &started, &finished); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(req), &st.Request); err != nil {
		return nil, fmt.Errorf("corrupt request for job %s: %w", st.ID, err)
	}
	if names.Valid && names.String != "" && names.String != "null" {
		if err := json.Unmarshal([]byte(names.String), &st.BaseNames); err != nil {
			return nil, fmt.Errorf("corrupt base names for job %s: %w", st.ID, err)
		}
	}
	st.State = model.JobState(state)
	st.Message = message.String
	st.CreatedAt = parseTime(created)
	st.StartedAt = parseTimePtr(started)
	st.FinishedAt = parseTimePtr(finished)
	return &st, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, formatTime(time.Now()))
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
