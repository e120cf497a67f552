// Package scheduler enqueues job runs on cron schedules and in reaction to
// events. It never executes jobs itself; it only creates pending runs for
// the runner to claim.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/events"
	"github.com/bookprices/crawler/internal/job"
)

const enqueueTimeout = 30 * time.Second

// Entry schedules one job on a cron expression.
type Entry struct {
	JobName string
	Spec    string
}

// Config holds the schedule table.
type Config struct {
	Entries []Entry
}

// Scheduler owns the cron table and the job-name -> job-id catalog, which
// it refreshes daily so operator edits to the job table are picked up
// without a restart.
type Scheduler struct {
	runs   bookprice.RunCreator
	cron   *cron.Cron
	logger *zap.Logger

	mu     sync.RWMutex
	jobIDs map[string]string
}

// New builds a Scheduler over the run creator.
func New(runs bookprice.RunCreator, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runs:   runs,
		cron:   cron.New(),
		logger: logger,
		jobIDs: make(map[string]string),
	}
}

// Start loads the job catalog, registers the cron entries and starts the
// clock. It returns an error only for unparseable cron specs; an
// unreachable catalog is retried on the daily refresh.
func (s *Scheduler) Start(ctx context.Context, cfg Config) error {
	if err := s.refreshCatalog(ctx); err != nil {
		s.logger.Warn("initial job catalog load failed", zap.Error(err))
	}
	for _, entry := range cfg.Entries {
		name := entry.JobName
		if _, err := s.cron.AddFunc(entry.Spec, func() {
			s.Enqueue(name, bookprice.PriorityNormal, nil)
		}); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, entry.Spec, err)
		}
		s.logger.Info("job scheduled",
			zap.String("job", name),
			zap.String("spec", entry.Spec),
		)
	}
	if _, err := s.cron.AddFunc("@daily", func() {
		if err := s.refreshCatalog(context.Background()); err != nil {
			s.logger.Warn("job catalog refresh failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule catalog refresh: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron clock and waits for in-flight entry functions.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// BindEvents wires the job chain: a created or imported book triggers a
// bookstore search, and a finished search triggers image downloads. The
// follow-on runs are High priority so import cascades don't wait for the
// nightly schedule.
func (s *Scheduler) BindEvents(m *events.Manager) {
	search := func(any) error {
		s.Enqueue(job.NameSearchBookstores, bookprice.PriorityHigh, nil)
		return nil
	}
	m.Listen(bookprice.EventBookCreated, search)
	m.Listen(bookprice.EventBooksImported, search)
	m.Listen(bookprice.EventBookstoreSearchCompleted, func(any) error {
		s.Enqueue(job.NameDownloadImages, bookprice.PriorityHigh, nil)
		return nil
	})
}

// Enqueue creates a pending run for the named job. Fire and forget: a
// failed enqueue is logged, and the next schedule slot tries again.
func (s *Scheduler) Enqueue(jobName string, priority bookprice.JobPriority, args []bookprice.JobRunArgument) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	jobID, ok := s.jobID(jobName)
	if !ok {
		if err := s.refreshCatalog(ctx); err != nil {
			s.logger.Error("enqueue failed: job catalog unavailable",
				zap.String("job", jobName),
				zap.Error(err),
			)
			return
		}
		if jobID, ok = s.jobID(jobName); !ok {
			s.logger.Error("enqueue failed: job not in catalog", zap.String("job", jobName))
			return
		}
	}

	run := bookprice.JobRun{
		JobID:     jobID,
		JobName:   jobName,
		Priority:  priority,
		Status:    bookprice.RunPending,
		Arguments: args,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		s.logger.Error("enqueue failed",
			zap.String("job", jobName),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("job run enqueued",
		zap.String("job", jobName),
		zap.String("priority", string(priority)),
	)
}

func (s *Scheduler) jobID(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.jobIDs[name]
	return id, ok
}

func (s *Scheduler) refreshCatalog(ctx context.Context) error {
	jobs, err := s.runs.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	ids := make(map[string]string, len(jobs))
	for _, j := range jobs {
		ids[j.Name] = j.ID
	}
	s.mu.Lock()
	s.jobIDs = ids
	s.mu.Unlock()
	return nil
}
