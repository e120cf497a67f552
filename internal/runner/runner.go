// Package runner polls the job-run queue and executes claimed runs. Any
// number of runner instances may share one queue; the version check on the
// claim transition guarantees a run is executed once.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/job"
	"github.com/bookprices/crawler/internal/metrics"
)

// Defaults for the poll loop.
const (
	DefaultPollInterval     = 10 * time.Second
	DefaultJobLookupRetries = 3
	DefaultMaxSourceErrors  = 5
)

// lookupMissCap bounds the unknown-job retry counters. A run claimed away
// by another instance mid-retry never gets its counter deleted here, so the
// counters live in an LRU instead of a map that would grow forever.
const lookupMissCap = 128

// Config holds the runner settings.
type Config struct {
	PollInterval time.Duration
	// JobLookupRetries is how many polls a run whose job name is not
	// registered stays pending before it is force-failed.
	JobLookupRetries int
	// MaxSourceErrors terminates the loop after that many consecutive
	// failures to reach the run source.
	MaxSourceErrors int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.JobLookupRetries <= 0 {
		c.JobLookupRetries = DefaultJobLookupRetries
	}
	if c.MaxSourceErrors <= 0 {
		c.MaxSourceErrors = DefaultMaxSourceErrors
	}
	return c
}

// Runner drives the claim/execute/report cycle.
type Runner struct {
	source       bookprice.RunSource
	jobs         *job.Registry
	cfg          Config
	logger       *zap.Logger
	lookupMisses *lru.Cache[string, int]
}

// New builds a Runner.
func New(source bookprice.RunSource, jobs *job.Registry, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	// lru.New errors only on a non-positive size.
	misses, _ := lru.New[string, int](lookupMissCap)
	return &Runner{
		source:       source,
		jobs:         jobs,
		cfg:          cfg.withDefaults(),
		logger:       logger,
		lookupMisses: misses,
	}
}

// Run polls until the context is canceled or the run source stays
// unreachable. After executing a run it polls again immediately so a backed
// up queue drains without waiting out the interval.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	sourceErrors := 0
	for {
		processed, err := r.pollOnce(ctx)
		switch {
		case err != nil:
			sourceErrors++
			if sourceErrors >= r.cfg.MaxSourceErrors {
				return fmt.Errorf("job run source unavailable after %d attempts: %w", sourceErrors, err)
			}
			r.logger.Error("poll failed", zap.Int("consecutive", sourceErrors), zap.Error(err))
		case processed:
			sourceErrors = 0
			continue
		default:
			sourceErrors = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce claims and executes at most one run. It reports whether anything
// was processed, so the caller knows to poll again without delay.
func (r *Runner) pollOnce(ctx context.Context) (bool, error) {
	run, err := r.source.NextPendingRun(ctx)
	if err != nil {
		return false, fmt.Errorf("next pending run: %w", err)
	}
	if run == nil {
		return false, nil
	}

	j, ok := r.jobs.Get(run.JobName)
	if !ok {
		return r.handleUnknownJob(ctx, *run)
	}
	r.lookupMisses.Remove(run.ID)

	if err := r.source.UpdateRunStatus(ctx, bookprice.RunStatusUpdate{
		RunID:   run.ID,
		JobID:   run.JobID,
		Version: run.Version,
		Status:  bookprice.RunRunning,
	}); err != nil {
		if errors.Is(err, bookprice.ErrVersionConflict) {
			// Another runner instance won the claim.
			r.logger.Warn("lost claim race", zap.String("run_id", run.ID))
			return true, nil
		}
		return false, fmt.Errorf("claim run %s: %w", run.ID, err)
	}

	r.execute(ctx, *run, j)
	return true, nil
}

// handleUnknownJob leaves a run with no registered job pending for a few
// polls; a rolling deploy may simply not carry it yet. After the retries it
// is claimed and failed so it stops clogging the queue.
func (r *Runner) handleUnknownJob(ctx context.Context, run bookprice.JobRun) (bool, error) {
	misses, _ := r.lookupMisses.Get(run.ID)
	misses++
	r.lookupMisses.Add(run.ID, misses)
	if misses < r.cfg.JobLookupRetries {
		r.logger.Warn("no job registered for run",
			zap.String("run_id", run.ID),
			zap.String("job", run.JobName),
			zap.Int("attempt", misses),
		)
		return false, nil
	}
	r.lookupMisses.Remove(run.ID)

	if err := r.source.UpdateRunStatus(ctx, bookprice.RunStatusUpdate{
		RunID:   run.ID,
		JobID:   run.JobID,
		Version: run.Version,
		Status:  bookprice.RunRunning,
	}); err != nil {
		if errors.Is(err, bookprice.ErrVersionConflict) {
			return true, nil
		}
		return false, fmt.Errorf("claim run %s: %w", run.ID, err)
	}
	r.report(ctx, run, bookprice.RunFailed, fmt.Sprintf("no job registered under %q", run.JobName))
	return true, nil
}

func (r *Runner) execute(ctx context.Context, run bookprice.JobRun, j job.Job) {
	r.logger.Info("job run started",
		zap.String("run_id", run.ID),
		zap.String("job", run.JobName),
		zap.String("priority", string(run.Priority)),
	)
	start := time.Now()
	err := runJob(ctx, j, run)
	elapsed := time.Since(start)

	status := bookprice.RunCompleted
	message := ""
	if err != nil {
		status = bookprice.RunFailed
		message = err.Error()
		r.logger.Error("job run failed",
			zap.String("run_id", run.ID),
			zap.String("job", run.JobName),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	} else {
		r.logger.Info("job run completed",
			zap.String("run_id", run.ID),
			zap.String("job", run.JobName),
			zap.Duration("elapsed", elapsed),
		)
	}
	metrics.ObserveJobRun(run.JobName, string(status), elapsed)
	r.report(ctx, run, status, message)
}

// report moves a claimed run to its terminal state. The claim bumped the
// version once, hence run.Version+1.
func (r *Runner) report(ctx context.Context, run bookprice.JobRun, status bookprice.JobRunStatus, message string) {
	err := r.source.UpdateRunStatus(ctx, bookprice.RunStatusUpdate{
		RunID:        run.ID,
		JobID:        run.JobID,
		Version:      run.Version + 1,
		Status:       status,
		ErrorMessage: message,
	})
	if err != nil {
		r.logger.Error("report run status failed",
			zap.String("run_id", run.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// runJob isolates job panics: a panicking job fails its run instead of
// taking the runner down.
func runJob(ctx context.Context, j job.Job, run bookprice.JobRun) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return j.Run(ctx, run)
}
