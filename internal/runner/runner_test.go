package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/job"
	"github.com/bookprices/crawler/internal/storage/memory"
)

// recordedJob is a configurable job for runner tests.
type recordedJob struct {
	name  string
	mu    sync.Mutex
	runs  []bookprice.JobRun
	err   error
	panic bool
}

func (j *recordedJob) Name() string { return j.name }

func (j *recordedJob) Run(_ context.Context, run bookprice.JobRun) error {
	j.mu.Lock()
	j.runs = append(j.runs, run)
	j.mu.Unlock()
	if j.panic {
		panic("boom")
	}
	return j.err
}

func (j *recordedJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.runs)
}

func newFixture(jobs ...job.Job) (*memory.JobRunStore, *Runner) {
	store := memory.NewJobRunStore(nil)
	r := New(store, job.NewRegistry(jobs...), Config{PollInterval: time.Millisecond}, nil)
	return store, r
}

func TestPollOnceCompletesRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := &recordedJob{name: job.NameUpdatePrices}
	store, r := newFixture(j)
	require.NoError(t, store.CreateRun(ctx, bookprice.JobRun{ID: "r1", JobName: job.NameUpdatePrices}))

	processed, err := r.pollOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, 1, j.count())

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, bookprice.RunCompleted, got.Status)
	require.Empty(t, got.ErrorMessage)
	// Claim plus completion: two version bumps.
	require.Equal(t, 3, got.Version)
}

func TestPollOnceFailsRunOnJobError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := &recordedJob{name: job.NameUpdatePrices, err: errors.New("store unreachable")}
	store, r := newFixture(j)
	require.NoError(t, store.CreateRun(ctx, bookprice.JobRun{ID: "r1", JobName: job.NameUpdatePrices}))

	processed, err := r.pollOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, bookprice.RunFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "store unreachable")
}

func TestPollOnceRecoversJobPanic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := &recordedJob{name: job.NameUpdatePrices, panic: true}
	store, r := newFixture(j)
	require.NoError(t, store.CreateRun(ctx, bookprice.JobRun{ID: "r1", JobName: job.NameUpdatePrices}))

	processed, err := r.pollOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, bookprice.RunFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "panicked")
}

func TestPollOnceEmptyQueue(t *testing.T) {
	t.Parallel()

	_, r := newFixture(&recordedJob{name: job.NameUpdatePrices})
	processed, err := r.pollOnce(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}

func TestUnknownJobFailsAfterRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, r := newFixture() // empty registry
	require.NoError(t, store.CreateRun(ctx, bookprice.JobRun{ID: "r1", JobName: "retired_job"}))

	// First two polls leave the run pending.
	for i := 0; i < 2; i++ {
		processed, err := r.pollOnce(ctx)
		require.NoError(t, err)
		require.False(t, processed)
		got, err := store.GetRun(ctx, "r1")
		require.NoError(t, err)
		require.Equal(t, bookprice.RunPending, got.Status)
	}

	processed, err := r.pollOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, bookprice.RunFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "retired_job")
}

func TestUnknownJobCountersStayBounded(t *testing.T) {
	t.Parallel()

	// Runs claimed by another instance mid-retry never hit the delete paths,
	// so their counters must age out instead of accumulating.
	ctx := context.Background()
	store, r := newFixture() // empty registry

	for i := 0; i < lookupMissCap+50; i++ {
		id := fmt.Sprintf("orphan-%d", i)
		require.NoError(t, store.CreateRun(ctx, bookprice.JobRun{ID: id, JobName: "retired_job"}))

		// One poll records a lookup miss and leaves the run pending.
		processed, err := r.pollOnce(ctx)
		require.NoError(t, err)
		require.False(t, processed)

		// Another instance claims the run; this runner never sees it again.
		require.NoError(t, store.UpdateRunStatus(ctx, bookprice.RunStatusUpdate{
			RunID: id, Version: 1, Status: bookprice.RunRunning,
		}))
	}
	require.LessOrEqual(t, r.lookupMisses.Len(), lookupMissCap)

	// Counting still works for the next unknown run.
	require.NoError(t, store.CreateRun(ctx, bookprice.JobRun{ID: "fresh", JobName: "retired_job"}))
	for i := 0; i < 2; i++ {
		processed, err := r.pollOnce(ctx)
		require.NoError(t, err)
		require.False(t, processed)
	}
	processed, err := r.pollOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	got, err := store.GetRun(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, bookprice.RunFailed, got.Status)
}

func TestLostClaimRaceIsNotFatal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := &recordedJob{name: job.NameUpdatePrices}
	store := memory.NewJobRunStore(nil)
	require.NoError(t, store.CreateRun(ctx, bookprice.JobRun{ID: "r1", JobName: job.NameUpdatePrices}))

	// Another instance claims the run between our poll and claim.
	raced := &racingSource{JobRunStore: store}

	r := New(raced, job.NewRegistry(j), Config{PollInterval: time.Millisecond}, nil)
	processed, err := r.pollOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, 0, j.count())
}

// racingSource claims every run itself right after handing it out, so the
// caller's claim always loses.
type racingSource struct {
	*memory.JobRunStore
}

func (s *racingSource) NextPendingRun(ctx context.Context) (*bookprice.JobRun, error) {
	run, err := s.JobRunStore.NextPendingRun(ctx)
	if err != nil || run == nil {
		return run, err
	}
	stale := *run
	err = s.JobRunStore.UpdateRunStatus(ctx, bookprice.RunStatusUpdate{
		RunID: run.ID, JobID: run.JobID, Version: run.Version, Status: bookprice.RunRunning,
	})
	if err != nil {
		return nil, err
	}
	return &stale, nil
}

func TestRunTerminatesAfterConsecutiveSourceErrors(t *testing.T) {
	t.Parallel()

	src := &failingSource{err: errors.New("api down")}
	r := New(src, job.NewRegistry(), Config{
		PollInterval:    time.Millisecond,
		MaxSourceErrors: 3,
	}, nil)

	err := r.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, src.err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	_, r := newFixture(&recordedJob{name: job.NameUpdatePrices})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunDrainsQueue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j := &recordedJob{name: job.NameUpdatePrices}
	store, r := newFixture(j)
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.CreateRun(ctx, bookprice.JobRun{ID: id, JobName: job.NameUpdatePrices}))
	}

	go func() { _ = r.Run(ctx) }()
	require.Eventually(t, func() bool { return j.count() == 3 }, time.Second, 5*time.Millisecond)
}

type failingSource struct {
	err error
}

func (s *failingSource) NextPendingRun(context.Context) (*bookprice.JobRun, error) {
	return nil, s.err
}

func (s *failingSource) UpdateRunStatus(context.Context, bookprice.RunStatusUpdate) error {
	return s.err
}
