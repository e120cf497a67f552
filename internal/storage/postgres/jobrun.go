package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bookprices/crawler/internal/bookprice"
)

const runColumns = `r.id, r.job_id, j.name, r.priority, r.status, r.arguments,
r.version, r.created, r.updated, COALESCE(r.error_message, '')`

// JobRunStore is the Postgres bookprice.JobRunStore. Status transitions go
// through a versioned compare-and-set so racing runner instances never
// both own a run.
type JobRunStore struct {
	pool  pool
	clock bookprice.Clock
}

// NewJobRunStore builds a JobRunStore over an existing pool.
func NewJobRunStore(p pool, clock bookprice.Clock) *JobRunStore {
	if clock == nil {
		clock = bookprice.SystemClock{}
	}
	return &JobRunStore{pool: p, clock: clock}
}

// CreateRun enqueues a run.
func (s *JobRunStore) CreateRun(ctx context.Context, run bookprice.JobRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = bookprice.RunPending
	}
	if run.Priority == "" {
		run.Priority = bookprice.PriorityNormal
	}
	args, err := json.Marshal(run.Arguments)
	if err != nil {
		return fmt.Errorf("marshal run arguments: %w", err)
	}
	now := s.clock.Now()
	if _, err := s.pool.Exec(ctx, `
INSERT INTO job_runs (id, job_id, priority, status, arguments, version, created, updated)
VALUES ($1, $2, $3, $4, $5, 1, $6, $6)`,
		run.ID, run.JobID, string(run.Priority), string(run.Status), args, now); err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// NextPendingRun returns the pending run with the highest priority, oldest
// first within a priority, or nil when the queue is empty.
func (s *JobRunStore) NextPendingRun(ctx context.Context) (*bookprice.JobRun, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM job_runs r
JOIN jobs j ON j.id = r.job_id
WHERE r.status = $1
ORDER BY CASE r.priority WHEN 'High' THEN 2 WHEN 'Normal' THEN 1 ELSE 0 END DESC,
	r.created ASC
LIMIT 1`, runColumns)
	run, err := s.scanRun(s.pool.QueryRow(ctx, query, string(bookprice.RunPending)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select next pending run: %w", err)
	}
	return &run, nil
}

// UpdateRunStatus applies a compare-and-set status transition. A stale
// version yields ErrVersionConflict, an unknown run ErrNotFound.
func (s *JobRunStore) UpdateRunStatus(ctx context.Context, update bookprice.RunStatusUpdate) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE job_runs
SET status = $1, error_message = NULLIF($2, ''), version = version + 1, updated = $3
WHERE id = $4 AND version = $5`,
		string(update.Status), update.ErrorMessage, s.clock.Now(), update.RunID, update.Version)
	if err != nil {
		return fmt.Errorf("update job run: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows: the run is gone or someone else bumped the version.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_runs WHERE id = $1)`, update.RunID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job run existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("job run %s: %w", update.RunID, bookprice.ErrNotFound)
	}
	return fmt.Errorf("job run %s version %d: %w", update.RunID, update.Version, bookprice.ErrVersionConflict)
}

// GetRun returns one run by id.
func (s *JobRunStore) GetRun(ctx context.Context, id string) (bookprice.JobRun, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM job_runs r
JOIN jobs j ON j.id = r.job_id
WHERE r.id = $1`, runColumns)
	run, err := s.scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bookprice.JobRun{}, fmt.Errorf("job run %s: %w", id, bookprice.ErrNotFound)
		}
		return bookprice.JobRun{}, fmt.Errorf("select job run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs, newest first, optionally filtered by status.
func (s *JobRunStore) ListRuns(ctx context.Context, status bookprice.JobRunStatus, limit int) ([]bookprice.JobRun, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		query string
		args  []any
	)
	if status != "" {
		query = fmt.Sprintf(`
SELECT %s FROM job_runs r
JOIN jobs j ON j.id = r.job_id
WHERE r.status = $1
ORDER BY r.created DESC LIMIT $2`, runColumns)
		args = []any{string(status), limit}
	} else {
		query = fmt.Sprintf(`
SELECT %s FROM job_runs r
JOIN jobs j ON j.id = r.job_id
ORDER BY r.created DESC LIMIT $1`, runColumns)
		args = []any{limit}
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select job runs: %w", err)
	}
	defer rows.Close()

	var runs []bookprice.JobRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListJobs returns the active job definitions.
func (s *JobRunStore) ListJobs(ctx context.Context) ([]bookprice.JobDefinition, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, COALESCE(description, ''), is_active
FROM jobs
WHERE is_active
ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	var jobs []bookprice.JobDefinition
	for rows.Next() {
		var j bookprice.JobDefinition
		if err := rows.Scan(&j.ID, &j.Name, &j.Description, &j.IsActive); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *JobRunStore) scanRun(row scanner) (bookprice.JobRun, error) {
	var (
		run              bookprice.JobRun
		priority, status string
		args             []byte
	)
	err := row.Scan(
		&run.ID, &run.JobID, &run.JobName, &priority, &status, &args,
		&run.Version, &run.Created, &run.Updated, &run.ErrorMessage,
	)
	if err != nil {
		return bookprice.JobRun{}, err
	}
	run.Priority = bookprice.JobPriority(priority)
	run.Status = bookprice.JobRunStatus(status)
	if len(args) > 0 {
		if err := json.Unmarshal(args, &run.Arguments); err != nil {
			return bookprice.JobRun{}, fmt.Errorf("unmarshal run arguments: %w", err)
		}
	}
	return run, nil
}
