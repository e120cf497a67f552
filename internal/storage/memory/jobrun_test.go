package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bookprices/crawler/internal/bookprice"
)

// tickClock advances by one second per Now call so run ordering is
// deterministic.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func TestNextPendingRunOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewJobRunStore(newTickClock())

	require.NoError(t, s.CreateRun(ctx, bookprice.JobRun{ID: "old-normal", JobName: "update_prices", Priority: bookprice.PriorityNormal}))
	require.NoError(t, s.CreateRun(ctx, bookprice.JobRun{ID: "new-normal", JobName: "trim_prices", Priority: bookprice.PriorityNormal}))
	require.NoError(t, s.CreateRun(ctx, bookprice.JobRun{ID: "late-high", JobName: "search_bookstores", Priority: bookprice.PriorityHigh}))

	// High beats Normal regardless of age.
	run, err := s.NextPendingRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, "late-high", run.ID)

	require.NoError(t, s.UpdateRunStatus(ctx, bookprice.RunStatusUpdate{
		RunID: run.ID, Version: run.Version, Status: bookprice.RunRunning,
	}))

	// Within a priority, oldest first.
	run, err = s.NextPendingRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, "old-normal", run.ID)
}

func TestNextPendingRunEmptyQueue(t *testing.T) {
	t.Parallel()

	run, err := NewJobRunStore(nil).NextPendingRun(context.Background())
	require.NoError(t, err)
	require.Nil(t, run)
}

func TestUpdateRunStatusVersionConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewJobRunStore(newTickClock())
	require.NoError(t, s.CreateRun(ctx, bookprice.JobRun{ID: "r1", JobName: "update_prices"}))

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateRunStatus(ctx, bookprice.RunStatusUpdate{
		RunID: "r1", Version: run.Version, Status: bookprice.RunRunning,
	}))

	// A second update with the stale version must be rejected.
	err = s.UpdateRunStatus(ctx, bookprice.RunStatusUpdate{
		RunID: "r1", Version: run.Version, Status: bookprice.RunRunning,
	})
	require.ErrorIs(t, err, bookprice.ErrVersionConflict)

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, bookprice.RunRunning, got.Status)
	require.Equal(t, run.Version+1, got.Version)
}

func TestUpdateRunStatusUnknownRun(t *testing.T) {
	t.Parallel()

	err := NewJobRunStore(nil).UpdateRunStatus(context.Background(), bookprice.RunStatusUpdate{
		RunID: "missing", Version: 1, Status: bookprice.RunRunning,
	})
	require.ErrorIs(t, err, bookprice.ErrNotFound)
}

func TestConcurrentClaimExactlyOneWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewJobRunStore(newTickClock())
	require.NoError(t, s.CreateRun(ctx, bookprice.JobRun{ID: "contested", JobName: "update_prices"}))

	run, err := s.GetRun(ctx, "contested")
	require.NoError(t, err)

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.UpdateRunStatus(ctx, bookprice.RunStatusUpdate{
				RunID: "contested", Version: run.Version, Status: bookprice.RunRunning,
			})
			if err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	require.Equal(t, 1, won)
}

func TestListRunsFiltersAndLimits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewJobRunStore(newTickClock())
	require.NoError(t, s.CreateRun(ctx, bookprice.JobRun{ID: "a", JobName: "update_prices"}))
	require.NoError(t, s.CreateRun(ctx, bookprice.JobRun{ID: "b", JobName: "trim_prices"}))
	require.NoError(t, s.CreateRun(ctx, bookprice.JobRun{ID: "c", JobName: "update_prices", Status: bookprice.RunCompleted}))

	pending, err := s.ListRuns(ctx, bookprice.RunPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// Newest first.
	require.Equal(t, "b", pending[0].ID)

	all, err := s.ListRuns(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestListJobsOnlyActive(t *testing.T) {
	t.Parallel()

	s := NewJobRunStore(nil)
	s.AddJob(bookprice.JobDefinition{Name: "update_prices", IsActive: true})
	s.AddJob(bookprice.JobDefinition{Name: "legacy_export", IsActive: false})

	jobs, err := s.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "update_prices", jobs[0].Name)
	require.NotEmpty(t, jobs[0].ID)
}
