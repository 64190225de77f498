package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/data"
	"github.com/acme/shelfsort/internal/domain"
	"github.com/acme/shelfsort/internal/domain/model"
	domainscheduler "github.com/acme/shelfsort/internal/domain/scheduler"
)

// schedulerTickLock serialises ticks across replicas.
const schedulerTickLock = "scheduler:tick"

// SchedulerService fires due cron schedules into the job queues.
// Safe under concurrent replicas: a tick runs under a transaction-scoped advisory lock and
// due rows are claimed FOR UPDATE SKIP LOCKED, so a firing and its next_run_at advance
// commit together.
type SchedulerService struct {
	repo         core.ScheduledJobsRepository
	jobs         core.JobTxCreator
	cfg          core.SchedulerConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger

	taskProcessor *domainscheduler.TaskProcessor
}

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Repo         core.ScheduledJobsRepository
	Jobs         core.JobTxCreator
	Config       *core.SchedulerConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Repo == nil {
		return nil, errors.New("scheduled jobs repository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("job creator is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	cfg := core.DefaultSchedulerConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = core.DefaultSchedulerConfig().BatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &SchedulerService{
		repo:         opts.Repo,
		jobs:         opts.Jobs,
		cfg:          cfg,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "scheduler"),
		taskProcessor: domainscheduler.NewTaskProcessor(domainscheduler.TaskProcessorOptions{
			DefaultPolicy: cfg.DefaultPolicy,
			RetryDelay:    cfg.RetryDelay,
		}),
	}, nil
}

// Tick fires every schedule due at now and returns how many produced a new job.
// Firings absorbed by a still-running previous job advance the schedule but are not counted.
// When another replica holds the tick lock, Tick returns (0, nil).
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = s.timeProvider.Now()
	}

	enqueued := 0
	locked, err := s.repo.TryWithTaskLock(ctx, schedulerTickLock, func(ctx context.Context, tx *sql.Tx) error {
		due, err := s.repo.FindDueTx(ctx, tx, domain.FindDueParams{Now: now, Limit: s.cfg.BatchSize})
		if err != nil {
			return fmt.Errorf("find due tasks: %w", err)
		}
		for _, task := range due {
			res, err := s.taskProcessor.Process(ctx, domainscheduler.ProcessParams{
				Task:     task,
				Now:      now,
				Store:    taskStoreAdapter{repo: s.repo, tx: tx},
				Enqueuer: taskEnqueuer{jobs: s.jobs, tx: tx},
			})
			if err != nil {
				return fmt.Errorf("process task %s/%s: %w", task.Queue, task.Key, err)
			}
			s.logResult(task, res)
			if res.Enqueued {
				enqueued++
			}
		}
		return nil
	})
	if err != nil {
		return enqueued, err
	}
	if !locked {
		s.logger.Debug("scheduler tick skipped; lock held elsewhere")
	}
	return enqueued, nil
}

func (s *SchedulerService) logResult(task domain.ScheduledTask, res *domainscheduler.ProcessResult) {
	if res == nil || !res.Due {
		return
	}
	attrs := []any{
		"queue", task.Queue,
		"key", task.Key,
		"next_run_at", res.NextRunAt,
	}
	if res.Duplicated {
		s.logger.Info("scheduled firing absorbed by unfinished job", append(attrs, "job_id", res.JobID)...)
		return
	}
	s.logger.Debug("scheduled job enqueued", append(attrs, "job_id", res.JobID)...)
}

type taskStoreAdapter struct {
	repo core.ScheduledJobsRepository
	tx   *sql.Tx
}

func (a taskStoreAdapter) MarkQueued(ctx context.Context, params domain.MarkQueuedParams) (bool, error) {
	return a.repo.MarkQueuedTx(ctx, a.tx, params)
}

type taskEnqueuer struct {
	jobs core.JobTxCreator
	tx   *sql.Tx
}

func (e taskEnqueuer) Enqueue(ctx context.Context, req model.CreateJobRequest) (*model.CreateJobResult, error) {
	return e.jobs.CreateInTx(ctx, e.tx, &req)
}

var _ core.JobScheduler = (*SchedulerService)(nil)
