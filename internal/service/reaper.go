package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/acme/shelfsort/config"
	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/observability/metrics"
	"github.com/acme/shelfsort/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo core.ReaperRepository // Required
	// BulkOps is optional; when set, stuck bulk operations are failed too.
	BulkOps core.BulkOperationReaper
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
	Clock   func() time.Time
}

// ReaperService fails pending jobs that were never picked up and prunes finished jobs
// once they are older than the configured retention. It also fails bulk operations whose
// finish never arrived or never completed.
type ReaperService struct {
	repo    core.ReaperRepository
	bulkOps core.BulkOperationReaper
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("reaper repository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Config.BatchSize <= 0 {
		opts.Config.BatchSize = 1000
	}
	return &ReaperService{
		repo:    opts.Repo,
		bulkOps: opts.BulkOps,
		config:  opts.Config,
		logger:  opts.Logger.With("component", "reaper"),
		metrics: opts.Metrics,
		now:     opts.Clock,
	}, nil
}

// Run cleans up once after a short random delay and then every interval until ctx ends.
// Returns nil on graceful shutdown (context.Canceled), the context error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "reaper started",
		"interval", s.config.Interval,
		"pending_max_age", s.config.PendingMaxAge,
		"completed_max_age", s.config.CompletedMaxAge,
		"failed_max_age", s.config.FailedMaxAge,
		"bulk_operation_max_age", s.config.BulkOperationMaxAge,
	)

	// Replicas started together should not hit the jobs table in lockstep.
	if jitter := s.jitter(); jitter > 0 {
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return shutdownErr(ctx)
		}
	}

	if err := s.Cleanup(ctx); err != nil {
		s.logCleanupError(ctx, err)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper stopping", "reason", ctx.Err())
			return shutdownErr(ctx)
		case <-ticker.C:
			if err := s.Cleanup(ctx); err != nil {
				s.logCleanupError(ctx, err)
			}
		}
	}
}

func (s *ReaperService) jitter() time.Duration {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(maxJitter))
}

type reapStep struct {
	operation string
	run       func(context.Context) (int64, error)
}

type reapResult struct {
	operation string
	count     int64
	err       error
}

// Cleanup runs every reaping step once. Steps are independent: a failing step does not
// stop the others, and the joined error is returned.
func (s *ReaperService) Cleanup(ctx context.Context) error {
	start := s.now()
	steps := []reapStep{
		{operation: "fail_pending", run: s.failStalePendingJobs},
		{operation: "delete_completed", run: s.deleteOldCompletedJobs},
		{operation: "delete_failed", run: s.deleteOldFailedJobs},
	}
	if s.bulkOps != nil {
		steps = append(steps, reapStep{operation: "fail_stale_bulk_operations", run: s.failStaleBulkOperations})
	}

	results := make([]reapResult, 0, len(steps))
	var errs []error
	for _, step := range steps {
		count, err := step.run(ctx)
		results = append(results, reapResult{operation: step.operation, count: count, err: err})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.operation, err))
		}
	}
	s.emitCleanupMetrics(results, s.now().Sub(start))

	if len(errs) == 0 {
		return nil
	}
	joined := errors.Join(errs...)
	if ctx.Err() != nil && isContextCancellation(joined) {
		return ctx.Err()
	}
	return fmt.Errorf("cleanup failed: %w", joined)
}

// failStalePendingJobs fails pending jobs that have been due for longer than the cutoff,
// batch by batch until nothing is left.
func (s *ReaperService) failStalePendingJobs(ctx context.Context) (int64, error) {
	total, err := drainBatches(ctx, func() (int64, error) {
		return s.repo.FailStalePendingJobs(ctx, s.config.PendingMaxAge, s.config.BatchSize)
	})
	if total > 0 {
		s.logger.InfoContext(ctx, "failed stale pending jobs", "count", total, "max_age", s.config.PendingMaxAge)
	}
	return total, err
}

// failStaleBulkOperations closes bulk operations left CREATED or RUNNING past the cutoff,
// e.g. when the finish webhook was never delivered or its job was lost.
func (s *ReaperService) failStaleBulkOperations(ctx context.Context) (int64, error) {
	maxAge := s.config.BulkOperationMaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	total, err := drainBatches(ctx, func() (int64, error) {
		return s.bulkOps.FailStaleBulkOperations(ctx, maxAge, s.config.BatchSize)
	})
	if total > 0 {
		s.logger.WarnContext(ctx, "failed stale bulk operations", "count", total, "max_age", maxAge)
	}
	return total, err
}

func (s *ReaperService) deleteOldCompletedJobs(ctx context.Context) (int64, error) {
	return s.deleteOldJobs(ctx, model.JobStatusCompleted, s.config.CompletedMaxAge)
}

// deleteOldFailedJobs keeps failed jobs longer than completed ones for inspection.
func (s *ReaperService) deleteOldFailedJobs(ctx context.Context) (int64, error) {
	return s.deleteOldJobs(ctx, model.JobStatusFailed, s.config.FailedMaxAge)
}

// deleteOldJobs prunes one queue at a time so a large backlog in one queue cannot starve
// the others within a batch.
func (s *ReaperService) deleteOldJobs(ctx context.Context, status model.JobStatus, maxAge time.Duration) (int64, error) {
	var total int64
	for _, queue := range model.AllQueues() {
		count, err := drainBatches(ctx, func() (int64, error) {
			return s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
				Status:    status,
				Queue:     queue,
				MaxAge:    maxAge,
				BatchSize: s.config.BatchSize,
			})
		})
		total += count
		if count > 0 {
			s.logger.InfoContext(ctx, "deleted old jobs",
				"queue", queue,
				"status", status,
				"count", count,
				"max_age", maxAge,
			)
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// drainBatches repeats batch until it affects no rows, checking ctx between batches.
func drainBatches(ctx context.Context, batch func() (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := batch()
		if err != nil {
			return total, err
		}
		if count == 0 {
			return total, nil
		}
		total += count
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (s *ReaperService) emitCleanupMetrics(results []reapResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var total int64
	var firstErr error
	for _, r := range results {
		total += r.count
		if firstErr == nil {
			firstErr = suppressContextCancellation(r.err)
		}
		s.emitOperationMetric(r)
	}

	tags := metrics.ResultTags(total, firstErr)
	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}
	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(s.now().Unix()), nil)
	}
}

func (s *ReaperService) emitOperationMetric(r reapResult) {
	err := suppressContextCancellation(r.err)
	tags := metrics.ResultTags(r.count, err)
	tags["operation"] = r.operation

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && r.count > 0 {
		s.metrics.Count("reaper.jobs_processed", r.count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error) {
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, "reaper cleanup cancelled", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, "reaper cleanup failed", "error", err)
}

func shutdownErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
