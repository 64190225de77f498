// Package jobrunner executes queued jobs: it reserves work per queue, keeps leases
// alive, applies group rate limits and maps handler outcomes onto retries.
package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/acme/shelfsort/internal/core"
	domainjob "github.com/acme/shelfsort/internal/domain/job"
	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
	obserrors "github.com/acme/shelfsort/internal/observability/errors"
	"github.com/acme/shelfsort/internal/observability/metrics"
	"github.com/acme/shelfsort/internal/observability/statsd"
	"github.com/acme/shelfsort/internal/service"
)

// Handler processes a reserved job. The returned result is stored on the job when it
// completes. Errors are classified: upstream busy re-delays the job without consuming
// an attempt, permanent errors fail it at once and anything else is retried with backoff.
type Handler func(ctx context.Context, job *model.Job) (json.RawMessage, error)

// Queue is the subset of service.QueueService the runner drives.
type Queue interface {
	ReserveNext(ctx context.Context, queue model.QueueName, lease time.Duration) (*model.Job, error)
	Subscribe(queue model.QueueName) (func(), <-chan struct{})
	Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error)
	Complete(ctx context.Context, job *model.Job, result json.RawMessage) (bool, error)
	Fail(ctx context.Context, req service.FailRequest) (model.JobStatus, error)
	Delay(ctx context.Context, id string, until time.Time, reason string) (bool, error)
}

var _ Queue = (*service.QueueService)(nil)

// Delay reasons recorded on the job.
const (
	ReasonRateLimited  = "rate_limited"
	ReasonUpstreamBusy = "upstream_busy"
	ReasonShutdown     = "shutdown"
)

const (
	defaultLockDuration = 30 * time.Second
	defaultBusyDelay    = 30 * time.Second
	defaultPollInterval = 5 * time.Second
)

// WorkerOptions configures the workers of one queue.
type WorkerOptions struct {
	Concurrency  int
	LockDuration time.Duration
	// GroupRateLimit caps how many jobs sharing a group key start per window.
	GroupRateLimit core.RateLimit
}

// RunnerOptions configures the job runner.
type RunnerOptions struct {
	Queue   Queue            // Required
	Limiter core.RateLimiter // Optional: required only for workers with a group rate limit
	// Backoff applies to retried failures unless the job carries its own.
	Backoff domainjob.Backoff
	// BusyDelay is the minimum re-delay after an upstream busy error.
	BusyDelay time.Duration
	// PollInterval bounds how long an idle worker waits without a notification.
	PollInterval time.Duration
	Metrics      statsd.Sink
	Tracer       trace.Tracer
	Logger       *slog.Logger
	Clock        func() time.Time
}

type worker struct {
	queue   model.QueueName
	handler Handler
	opts    WorkerOptions
}

// Runner pulls jobs and executes them using registered handlers.
type Runner struct {
	queue        Queue
	limiter      core.RateLimiter
	backoff      domainjob.Backoff
	busyDelay    time.Duration
	pollInterval time.Duration
	metrics      statsd.Sink
	tracer       trace.Tracer
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	workers []worker
	running bool
}

// NewRunner constructs a runner with no workers.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/acme/shelfsort/internal/adapters/jobrunner")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	busy := opts.BusyDelay
	if busy <= 0 {
		busy = defaultBusyDelay
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	backoff := opts.Backoff
	if backoff.Base <= 0 {
		backoff = domainjob.DefaultBackoff
	}

	return &Runner{
		queue:        opts.Queue,
		limiter:      opts.Limiter,
		backoff:      backoff,
		busyDelay:    busy,
		pollInterval: poll,
		metrics:      opts.Metrics,
		tracer:       tracer,
		logger:       logger.With("component", "job_runner"),
		now:          now,
	}, nil
}

// RegisterWorker attaches handler to queue. It must be called before Run.
func (r *Runner) RegisterWorker(queue model.QueueName, handler Handler, opts WorkerOptions) error {
	if !queue.Valid() {
		return fmt.Errorf("invalid queue %q", queue)
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	if opts.GroupRateLimit.Enabled() && r.limiter == nil {
		return fmt.Errorf("queue %s: group rate limit requires a rate limiter", queue)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = defaultLockDuration
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("runner already started")
	}
	for _, w := range r.workers {
		if w.queue == queue {
			return fmt.Errorf("queue %s already has a worker", queue)
		}
	}
	r.workers = append(r.workers, worker{queue: queue, handler: handler, opts: opts})
	return nil
}

// Queues lists the queues with a registered worker.
func (r *Runner) Queues() []model.QueueName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.QueueName, len(r.workers))
	for i, w := range r.workers {
		out[i] = w.queue
	}
	return out
}

// Run processes jobs on every registered queue until ctx is canceled. Jobs in flight at
// shutdown are handed back to the queue without consuming an attempt.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("runner already started")
	}
	if len(r.workers) == 0 {
		r.mu.Unlock()
		return errors.New("no workers registered")
	}
	r.running = true
	workers := append([]worker(nil), r.workers...)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		r.logger.InfoContext(ctx, "starting queue workers",
			"queue", w.queue,
			"concurrency", w.opts.Concurrency,
			"lock_duration", w.opts.LockDuration,
			"group_rate_max", w.opts.GroupRateLimit.Max,
			"group_rate_window", w.opts.GroupRateLimit.Window,
		)
		for range w.opts.Concurrency {
			unsub, wake := r.queue.Subscribe(w.queue)
			defer unsub()
			g.Go(func() error { return r.workerLoop(gctx, w, wake) })
		}
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) workerLoop(ctx context.Context, w worker, wake <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.queue.ReserveNext(ctx, w.queue, w.opts.LockDuration)
		switch {
		case err == nil:
			r.processJob(ctx, w, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			wake = r.idle(ctx, wake)
		case ctx.Err() != nil:
			return nil
		default:
			r.logger.ErrorContext(ctx, "reserve job failed", "queue", w.queue, "error", err)
			r.idle(ctx, nil)
		}
	}
	return nil
}

// idle waits for a wake-up, the poll interval or shutdown. It returns the channel to
// wait on next time, nil once the subscription was closed.
func (r *Runner) idle(ctx context.Context, wake <-chan struct{}) <-chan struct{} {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case _, ok := <-wake:
		if !ok {
			return nil
		}
	case <-timer.C:
	}
	return wake
}

// outcome is what processJob decided to do with the job.
type outcome struct {
	transition string
	result     string
	err        error
}

func (r *Runner) processJob(ctx context.Context, w worker, job *model.Job) {
	start := r.now()
	ctx, span := r.tracer.Start(ctx, "job.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.queue", string(job.Queue)),
			attribute.String("job.id", job.ID),
			attribute.String("job.name", job.Name),
			attribute.Int("job.attempt", job.RetryCount+1),
		),
	)
	defer span.End()

	out := r.execute(ctx, w, job)

	span.SetAttributes(attribute.String("job.transition", out.transition))
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
	}
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Queue:      string(w.queue),
		Transition: out.transition,
		Result:     out.result,
		Duration:   r.now().Sub(start),
		Err:        out.err,
	})
}

func (r *Runner) execute(ctx context.Context, w worker, job *model.Job) outcome {
	// Finalization must reach the database even when shutdown cancels ctx.
	final := context.WithoutCancel(ctx)
	logger := r.logger.With("queue", job.Queue, "job_id", job.ID, "job_name", job.Name)

	if wait, limited := r.rateLimited(ctx, w, job); limited {
		r.delay(final, logger, job, r.now().Add(wait), ReasonRateLimited)
		return outcome{transition: "delayed", result: metrics.ResultNoop}
	}

	result, err := r.runHandler(ctx, w, job)

	switch {
	case err == nil:
		completed, cerr := r.queue.Complete(final, job, result)
		if cerr != nil {
			logger.ErrorContext(ctx, "complete job error", "error", cerr)
			return outcome{transition: "completed", result: metrics.ResultError, err: cerr}
		}
		if !completed {
			logger.WarnContext(ctx, "job lease lost before completion")
			return outcome{transition: "completed", result: metrics.ResultNoop}
		}
		return outcome{transition: "completed", result: metrics.ResultSuccess}

	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		r.delay(final, logger, job, r.now(), ReasonShutdown)
		return outcome{transition: "delayed", result: metrics.ResultNoop}

	case apperrors.IsUpstreamBusy(err):
		wait := max(apperrors.GetRetryAfter(err), r.busyDelay)
		logger.InfoContext(ctx, "upstream busy, delaying job", "retry_in", wait, "error", err)
		r.delay(final, logger, job, r.now().Add(wait), ReasonUpstreamBusy)
		return outcome{transition: "delayed", result: metrics.ResultNoop, err: err}
	}

	req := service.FailRequest{
		Job:      job,
		Err:      err,
		ErrClass: obserrors.Classify(err),
	}
	if apperrors.IsPermanent(err) {
		req.Permanent = true
	} else {
		backoff := r.backoff
		if custom, ok := service.JobBackoff(job); ok {
			backoff = custom
		}
		req.RetryDelay = backoff.Delay(job.RetryCount + 1)
	}
	if _, ferr := r.queue.Fail(final, req); ferr != nil {
		logger.ErrorContext(ctx, "fail job error", "error", ferr, "original_error", err)
	}
	return outcome{transition: "failed", result: metrics.ResultError, err: err}
}

// rateLimited consumes a group token. Limiter errors let the job run.
func (r *Runner) rateLimited(ctx context.Context, w worker, job *model.Job) (time.Duration, bool) {
	if !w.opts.GroupRateLimit.Enabled() || job.GroupKey == nil || *job.GroupKey == "" {
		return 0, false
	}
	key := string(job.Queue) + ":" + *job.GroupKey
	allowed, wait, err := r.limiter.Allow(ctx, key, w.opts.GroupRateLimit)
	if err != nil {
		r.logger.WarnContext(ctx, "group rate limiter unavailable, running job",
			"queue", job.Queue, "group", *job.GroupKey, "error", err)
		return 0, false
	}
	if allowed {
		return 0, false
	}
	if wait <= 0 {
		wait = w.opts.GroupRateLimit.Window
	}
	return wait, true
}

func (r *Runner) delay(ctx context.Context, logger *slog.Logger, job *model.Job, until time.Time, reason string) {
	ok, err := r.queue.Delay(ctx, job.ID, until, reason)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "delay job error", "reason", reason, "error", err)
	case !ok:
		logger.WarnContext(ctx, "job lease lost before delay", "reason", reason)
	default:
		logger.DebugContext(ctx, "job delayed", "reason", reason, "until", until)
	}
}

// runHandler invokes the handler under a lease heartbeat. A lost lease cancels the
// handler context. Panics are converted into errors.
func (r *Runner) runHandler(ctx context.Context, w worker, job *model.Job) (result json.RawMessage, err error) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		r.heartbeat(hctx, cancel, job, w.opts.LockDuration, done)
	}()
	defer func() {
		close(done)
		hb.Wait()
	}()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "job handler panicked",
				"queue", job.Queue, "job_id", job.ID, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return w.handler(hctx, job)
}

func (r *Runner) heartbeat(
	ctx context.Context,
	cancel context.CancelFunc,
	job *model.Job,
	lease time.Duration,
	done <-chan struct{},
) {
	ticker := time.NewTicker(domainjob.HeartbeatInterval(lease))
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.queue.Heartbeat(ctx, job.ID, lease)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "heartbeat failed", "job_id", job.ID, "error", err)
				}
				continue
			}
			if !ok {
				r.logger.WarnContext(ctx, "job lease lost, canceling handler", "job_id", job.ID)
				cancel()
				return
			}
		}
	}
}
