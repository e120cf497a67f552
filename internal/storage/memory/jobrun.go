package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bookprices/crawler/internal/bookprice"
)

// JobRunStore is an in-memory bookprice.JobRunStore with the same
// optimistic-versioning semantics as the postgres store.
type JobRunStore struct {
	mu    sync.Mutex
	runs  map[string]bookprice.JobRun
	jobs  []bookprice.JobDefinition
	clock bookprice.Clock
}

// NewJobRunStore builds an empty JobRunStore.
func NewJobRunStore(clock bookprice.Clock) *JobRunStore {
	if clock == nil {
		clock = bookprice.SystemClock{}
	}
	return &JobRunStore{
		runs:  make(map[string]bookprice.JobRun),
		clock: clock,
	}
}

// AddJob registers a job definition, assigning an id if unset.
func (s *JobRunStore) AddJob(job bookprice.JobDefinition) bookprice.JobDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	s.jobs = append(s.jobs, job)
	return job
}

// CreateRun enqueues a run. Id, status, version and timestamps are filled
// in when unset.
func (s *JobRunStore) CreateRun(_ context.Context, run bookprice.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = bookprice.RunPending
	}
	if run.Priority == "" {
		run.Priority = bookprice.PriorityNormal
	}
	if run.Version == 0 {
		run.Version = 1
	}
	now := s.clock.Now()
	if run.Created.IsZero() {
		run.Created = now
	}
	run.Updated = now
	s.runs[run.ID] = run
	return nil
}

// NextPendingRun returns the pending run with the highest priority, oldest
// first within a priority, or nil when the queue is empty.
func (s *JobRunStore) NextPendingRun(_ context.Context) (*bookprice.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *bookprice.JobRun
	for id := range s.runs {
		run := s.runs[id]
		if run.Status != bookprice.RunPending {
			continue
		}
		if best == nil || betterClaim(run, *best) {
			r := run
			best = &r
		}
	}
	return best, nil
}

func betterClaim(a, b bookprice.JobRun) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	return a.Created.Before(b.Created)
}

// UpdateRunStatus applies a compare-and-set status transition. A stale
// version yields ErrVersionConflict, an unknown run ErrNotFound.
func (s *JobRunStore) UpdateRunStatus(_ context.Context, update bookprice.RunStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[update.RunID]
	if !ok {
		return bookprice.ErrNotFound
	}
	if run.Version != update.Version {
		return bookprice.ErrVersionConflict
	}
	run.Status = update.Status
	run.ErrorMessage = update.ErrorMessage
	run.Version++
	run.Updated = s.clock.Now()
	s.runs[update.RunID] = run
	return nil
}

// GetRun returns a run by id.
func (s *JobRunStore) GetRun(_ context.Context, id string) (bookprice.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return bookprice.JobRun{}, bookprice.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs, newest first, optionally filtered by status.
func (s *JobRunStore) ListRuns(_ context.Context, status bookprice.JobRunStatus, limit int) ([]bookprice.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bookprice.JobRun
	for _, run := range s.runs {
		if status != "" && run.Status != status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListJobs returns the active job definitions.
func (s *JobRunStore) ListJobs(_ context.Context) ([]bookprice.JobDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bookprice.JobDefinition
	for _, j := range s.jobs {
		if j.IsActive {
			out = append(out, j)
		}
	}
	return out, nil
}
