// Package scheduler drives the cron scheduler on a fixed tick.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/observability/metrics"
	"github.com/acme/shelfsort/internal/observability/statsd"
)

const defaultInterval = time.Second

// Runner calls Tick on the scheduler at a fixed interval until its context ends.
type Runner struct {
	scheduler core.JobScheduler
	interval  time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Scheduler core.JobScheduler
	Interval  time.Duration
	Logger    *slog.Logger
	Metrics   statsd.Sink
	Clock     func() time.Time
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Runner{
		scheduler: opts.Scheduler,
		interval:  opts.Interval,
		logger:    opts.Logger.With("component", "scheduler_runner"),
		metrics:   opts.Metrics,
		now:       opts.Clock,
	}, nil
}

// Run ticks until ctx is cancelled. Tick errors are logged and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("scheduler runner started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := r.now()
	enqueued, err := r.scheduler.Tick(ctx, start)
	r.emitTickMetrics(enqueued, r.now().Sub(start), err)

	switch {
	case err != nil:
		r.logger.Error("scheduler tick failed", "error", err)
	case enqueued > 0:
		r.logger.Info("scheduler enqueued jobs", "count", enqueued)
	}
}

func (r *Runner) emitTickMetrics(enqueued int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	tags := metrics.ResultTags(int64(enqueued), err)
	r.metrics.Count("scheduler.tick", 1, tags)
	if enqueued > 0 {
		r.metrics.Count("scheduler.tasks_enqueued", int64(enqueued), metrics.CloneTags(tags))
	}
	if elapsed > 0 {
		r.metrics.Timing("scheduler.tick_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		r.metrics.Gauge("scheduler.last_success_epoch", float64(r.now().Unix()), nil)
	}
}
