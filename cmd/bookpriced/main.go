// Package main wires together the book price service: the job-run API, the
// polling runner, the cron scheduler and the scraping engines behind them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bookprices/crawler/internal/api"
	"github.com/bookprices/crawler/internal/bookprice"
	"github.com/bookprices/crawler/internal/cache/rediscache"
	"github.com/bookprices/crawler/internal/config"
	"github.com/bookprices/crawler/internal/engine"
	"github.com/bookprices/crawler/internal/events"
	"github.com/bookprices/crawler/internal/job"
	"github.com/bookprices/crawler/internal/jobrun"
	"github.com/bookprices/crawler/internal/logging"
	"github.com/bookprices/crawler/internal/runner"
	"github.com/bookprices/crawler/internal/scheduler"
	"github.com/bookprices/crawler/internal/scraper"
	"github.com/bookprices/crawler/internal/storage/images"
	"github.com/bookprices/crawler/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New("bookpriced", cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service terminated", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Minute,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	catalog := postgres.NewCatalogStore(pool)
	prices := postgres.NewPriceStore(pool)
	runs := postgres.NewJobRunStore(pool, bookprice.SystemClock{})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close() //nolint:errcheck // best-effort close
	cache := rediscache.NewKeyRemover(redisClient)

	imageStore, err := images.NewStore(cfg.Images.Directory, nil)
	if err != nil {
		return fmt.Errorf("image store: %w", err)
	}

	static := scraper.NewCollyFetcher(scraper.CollyConfig{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.ScrapeTimeout(),
	})
	var dynamic scraper.PageFetcher
	if cfg.Headless.Enabled {
		headless, err := scraper.NewChromedpFetcher(scraper.ChromedpConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			// Dynamic stores fall back to the static fetcher.
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer headless.Close()
			dynamic = headless
		}
	}
	scrapers, err := scraper.NewRegistry(static, dynamic)
	if err != nil {
		return fmt.Errorf("scraper registry: %w", err)
	}

	eventManager := events.NewManager()

	updateEngine := engine.NewUpdateEngine(
		catalog, prices, scrapers, cache, eventManager, bookprice.SystemClock{},
		engine.UpdateConfig{
			Threads:           cfg.Update.ThreadCount,
			MinItemsPerThread: cfg.Update.MinItemsPerThread,
			BatchSize:         cfg.Update.BatchSize,
		},
		logger.Named("update"),
	)
	trimEngine := engine.NewTrimEngine(
		catalog, prices, cache,
		engine.TrimConfig{
			MinPricesToKeep: cfg.Trim.MinPricesToKeep,
			BatchSize:       cfg.Update.BatchSize,
		},
		logger.Named("trim"),
	)

	searchCfg := job.SearchConfig{
		Threads:           cfg.Update.ThreadCount,
		MinItemsPerThread: cfg.Update.MinItemsPerThread,
		BatchSize:         cfg.Update.BatchSize,
	}
	jobs := job.NewRegistry(
		job.NewUpdateJob(updateEngine),
		job.NewTrimJob(trimEngine),
		job.NewSearchJob(catalog, scrapers, eventManager, searchCfg, logger.Named("search")),
		job.NewImageJob(catalog, imageStore, scrapers, searchCfg, logger.Named("images")),
		job.NewCleanupJob(catalog, prices, cache, cfg.Cleanup.FailureThreshold, logger.Named("cleanup")),
	)

	server := api.NewServer(runs, api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, logger.Named("api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	client := jobrun.NewClient(jobrun.Config{
		BaseURL: cfg.APIBaseURL(),
		APIKey:  cfg.Auth.APIKey,
		Timeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	})

	sched := scheduler.New(client, logger.Named("scheduler"))
	sched.BindEvents(eventManager)
	entries := make([]scheduler.Entry, 0, len(cfg.Scheduler.Entries))
	for _, e := range cfg.Scheduler.Entries {
		entries = append(entries, scheduler.Entry{JobName: e.Job, Spec: e.Spec})
	}
	if err := sched.Start(ctx, scheduler.Config{Entries: entries}); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	poller := runner.New(client, jobs, runner.Config{
		PollInterval:     cfg.PollInterval(),
		JobLookupRetries: cfg.Runner.JobLookupRetries,
		MaxSourceErrors:  cfg.Runner.MaxSourceErrors,
	}, logger.Named("runner"))
	runnerErr := make(chan error, 1)
	go func() {
		runnerErr <- poller.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case err := <-runnerErr:
		if err != nil {
			return fmt.Errorf("runner: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	return nil
}
