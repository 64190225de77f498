package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acme/shelfsort/config"
	"github.com/acme/shelfsort/internal/adapters/jobrunner"
	schedrunner "github.com/acme/shelfsort/internal/adapters/scheduler"
	"github.com/acme/shelfsort/internal/core"
	domainjob "github.com/acme/shelfsort/internal/domain/job"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/observability/statsd"
	"github.com/acme/shelfsort/internal/service"
)

// WorkersConfig contains what the queue workers need.
type WorkersConfig struct {
	Queue    jobrunner.Queue
	Limiter  core.RateLimiter
	Handlers JobHandlers
	Workers  config.WorkersConfig
	Queues   config.QueueConfig
	Metrics  statsd.Sink
	Logger   *slog.Logger
}

func workerOptions(cfg config.WorkerConfig) jobrunner.WorkerOptions {
	return jobrunner.WorkerOptions{
		Concurrency:  cfg.Concurrency,
		LockDuration: cfg.LockDuration,
		GroupRateLimit: core.RateLimit{
			Max:    cfg.GroupRateMax,
			Window: cfg.GroupRateWindow,
		},
	}
}

// NewWorkerRunner builds a job runner with one worker per queue.
func NewWorkerRunner(cfg WorkersConfig) (*jobrunner.Runner, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	opts := jobrunner.RunnerOptions{
		Queue:   cfg.Queue,
		Limiter: cfg.Limiter,
		Backoff: domainjob.Backoff{
			Base: cfg.Queues.BackoffBase,
			Max:  cfg.Queues.BackoffMax,
		},
		BusyDelay:    cfg.Queues.BusyDelay,
		PollInterval: cfg.Queues.PollInterval,
		Metrics:      cfg.Metrics,
		Logger:       cfg.Logger,
	}
	runner, err := jobrunner.NewRunner(opts)
	if err != nil {
		return nil, fmt.Errorf("create job runner: %w", err)
	}

	workers := []struct {
		queue   model.QueueName
		handler jobrunner.Handler
		cfg     config.WorkerConfig
	}{
		{model.QueueAutoSorting, cfg.Handlers.AutoSorting.Handle, cfg.Workers.AutoSorting},
		{model.QueueBulkOperation, cfg.Handlers.PushDown.Handle, cfg.Workers.PushDown},
		{model.QueueHideProduct, cfg.Handlers.HideProduct.Handle, cfg.Workers.HideProduct},
	}
	for _, w := range workers {
		opts := workerOptions(w.cfg)
		if opts.GroupRateLimit.Enabled() && cfg.Limiter == nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("group rate limit disabled without redis", "queue", w.queue)
			}
			opts.GroupRateLimit = core.RateLimit{}
		}
		if err := runner.RegisterWorker(w.queue, w.handler, opts); err != nil {
			return nil, fmt.Errorf("register %s worker: %w", w.queue, err)
		}
	}
	return runner, nil
}

// RunWorkers processes the auto-sorting, bulk-operation and hide-product queues until
// ctx is canceled.
func RunWorkers(ctx context.Context, cfg WorkersConfig) error {
	runner, err := NewWorkerRunner(cfg)
	if err != nil {
		return err
	}
	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run job runner: %w", runErr)
	}
	return nil
}

// SchedulerConfig contains configuration for the scheduler runner.
type SchedulerConfig struct {
	Scheduler core.JobScheduler
	Interval  time.Duration
	Metrics   statsd.Sink
	Logger    *slog.Logger
}

// RunScheduler fires due cron schedules until ctx is canceled.
func RunScheduler(ctx context.Context, cfg SchedulerConfig) error {
	runner, err := schedrunner.NewRunner(schedrunner.RunnerOptions{
		Scheduler: cfg.Scheduler,
		Interval:  cfg.Interval,
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create scheduler runner: %w", err)
	}
	return runner.Run(ctx)
}

// ReaperConfig contains configuration for the reaper.
type ReaperConfig struct {
	Repo    core.ReaperRepository
	BulkOps core.BulkOperationReaper
	Config  config.ReaperConfig
	Metrics statsd.Sink
	Logger  *slog.Logger
}

// RunReaper fails stale pending jobs and bulk operations and prunes finished jobs until
// ctx is canceled.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    cfg.Repo,
		BulkOps: cfg.BulkOps,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper: %w", err)
	}
	return svc.Run(ctx)
}
