package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/domain"
	domainjob "github.com/acme/shelfsort/internal/domain/job"
	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

// QueueServiceOptions groups dependencies for QueueService.
type QueueServiceOptions struct {
	Repo            core.JobRepository                // Required: job repository
	Schedules       core.ScheduledJobsAdminRepository // Optional: enables Schedule/Unschedule
	Events          domainjob.Publisher               // Optional: lifecycle event sink
	DefaultLease    time.Duration                     // Required unless LeasePolicy is set
	LeasePolicy     *domainjob.LeasePolicy            // Optional: override default lease policy
	Notifier        domainjob.Notifier                // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions         // Optional: configure default notifier behaviour
	Logger          *slog.Logger                      // Optional: structured logger
	Clock           func() time.Time                  // Optional: defaults to time.Now
}

// EnqueueOptions tunes a single enqueue.
type EnqueueOptions struct {
	// DedupKey makes a live job with the same key in the same queue absorb the enqueue.
	DedupKey string
	// TTL bounds how long the dedup key is honoured. Zero keeps it until the job finishes.
	TTL time.Duration
	// Delay postpones the first attempt.
	Delay    time.Duration
	GroupKey string
	// MaxAttempts is the total number of attempts. Zero uses the repository default.
	MaxAttempts int
	Priority    int
	// Backoff overrides the runner's retry backoff for this job.
	Backoff *domainjob.Backoff
}

// EnqueueRequest describes a job to enqueue.
type EnqueueRequest struct {
	Queue   model.QueueName
	Name    string
	Payload any
	Options EnqueueOptions
}

// JobHandle identifies the job that now represents an enqueue.
type JobHandle struct {
	ID         string `json:"id"`
	Duplicated bool   `json:"duplicated"`
}

// ScheduleRequest creates or replaces a recurring enqueue.
type ScheduleRequest struct {
	Queue         model.QueueName
	Key           string
	CronPattern   string
	Template      domain.JobTemplate
	OverrunPolicy *domain.OverrunPolicy
}

// QueueService is the application-facing API of the durable job queue: enqueueing with
// dedup, reservation and lease bookkeeping for the runner, lifecycle events and
// recurring schedules.
type QueueService struct {
	repo        core.JobRepository
	schedules   core.ScheduledJobsAdminRepository
	events      domainjob.Publisher
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewQueueService constructs a new QueueService.
func NewQueueService(opts QueueServiceOptions) (*QueueService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &QueueService{
		repo:        opts.Repo,
		schedules:   opts.Schedules,
		events:      opts.Events,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger.With("component", "queue_service"),
		now:         now,
	}, nil
}

// MustNewQueueService constructs a new QueueService and panics on error.
func MustNewQueueService(opts QueueServiceOptions) *QueueService {
	svc, err := NewQueueService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create QueueService: %v", err))
	}
	return svc
}

// jobMetadata is stored alongside a job and read back by the runner.
type jobMetadata struct {
	Backoff *backoffMetadata `json:"backoff,omitempty"`
}

type backoffMetadata struct {
	BaseMS int64 `json:"base_ms"`
	MaxMS  int64 `json:"max_ms"`
}

// JobBackoff returns the per-job backoff override stored in metadata, if any.
func JobBackoff(job *model.Job) (domainjob.Backoff, bool) {
	if job == nil || len(job.Metadata) == 0 {
		return domainjob.Backoff{}, false
	}
	var md jobMetadata
	if err := json.Unmarshal(job.Metadata, &md); err != nil || md.Backoff == nil || md.Backoff.BaseMS <= 0 {
		return domainjob.Backoff{}, false
	}
	return domainjob.Backoff{
		Base: time.Duration(md.Backoff.BaseMS) * time.Millisecond,
		Max:  time.Duration(md.Backoff.MaxMS) * time.Millisecond,
	}, true
}

// BuildCreateRequest converts an EnqueueRequest into the repository request.
func (s *QueueService) BuildCreateRequest(req EnqueueRequest) (*model.CreateJobRequest, error) {
	payload, err := marshalPayload(req.Payload)
	if err != nil {
		return nil, err
	}
	opts := req.Options
	if opts.Delay < 0 {
		return nil, apperrors.Validation("delay must be >= 0")
	}
	if opts.MaxAttempts < 0 {
		return nil, apperrors.Validation("max attempts must be >= 0")
	}

	create := &model.CreateJobRequest{
		Queue:      req.Queue,
		Name:       req.Name,
		Payload:    payload,
		Priority:   opts.Priority,
		DedupKey:   strings.TrimSpace(opts.DedupKey),
		DedupTTL:   opts.TTL,
		GroupKey:   strings.TrimSpace(opts.GroupKey),
		MaxRetries: opts.MaxAttempts,
	}
	if opts.Delay > 0 {
		at := s.now().Add(opts.Delay)
		create.ScheduledAt = &at
	}
	if opts.Backoff != nil {
		md, mdErr := json.Marshal(jobMetadata{Backoff: &backoffMetadata{
			BaseMS: opts.Backoff.Base.Milliseconds(),
			MaxMS:  opts.Backoff.Max.Milliseconds(),
		}})
		if mdErr != nil {
			return nil, fmt.Errorf("encode job metadata: %w", mdErr)
		}
		create.Metadata = md
	}
	if err := create.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}
	return create, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, apperrors.Validation("payload is required")
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Validationf("encode payload: %v", err)
	}
	return b, nil
}

// Enqueue adds a job. When a live job with the same dedup key exists in the queue,
// that job's id is returned with Duplicated set and a duplicated event is published.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (JobHandle, error) {
	create, err := s.BuildCreateRequest(req)
	if err != nil {
		return JobHandle{}, err
	}

	res, err := s.repo.Create(ctx, create)
	if err != nil {
		return JobHandle{}, fmt.Errorf("enqueue %s job: %w", req.Queue, err)
	}

	handle := JobHandle{ID: res.Job.ID, Duplicated: res.Duplicated}
	if res.Duplicated {
		s.logger.DebugContext(ctx, "enqueue absorbed by existing job",
			"queue", req.Queue, "job_id", res.Job.ID, "dedup_key", create.DedupKey)
		s.publish(domainjob.Event{
			Kind:     domainjob.EventDuplicated,
			Queue:    res.Job.Queue,
			JobID:    res.Job.ID,
			JobName:  res.Job.Name,
			DedupKey: create.DedupKey,
			Payload:  create.Payload,
		})
		return handle, nil
	}

	s.logger.DebugContext(ctx, "job enqueued",
		"queue", req.Queue, "name", req.Name, "job_id", res.Job.ID)
	return handle, nil
}

// ReserveNext reserves the next due job of queue for lease.
func (s *QueueService) ReserveNext(ctx context.Context, queue model.QueueName, lease time.Duration) (*model.Job, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", lease, "queue", queue)
	}

	job, err := s.repo.ReserveNext(ctx, queue, decision.Seconds)
	if err != nil {
		return nil, fmt.Errorf("reserve next job: %w", err)
	}

	s.logger.DebugContext(ctx, "job reserved",
		"id", job.ID, "queue", queue, "lease_seconds", decision.Seconds)
	return job, nil
}

// Subscribe returns a wake-up channel for queue and a function that releases it.
func (s *QueueService) Subscribe(queue model.QueueName) (func(), <-chan struct{}) {
	return s.notifier.Subscribe(queue)
}

// Heartbeat extends the lease on a running job.
func (s *QueueService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	updated, err := s.repo.Heartbeat(ctx, id, decision.Seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return updated, nil
}

// Complete marks the job completed with result and publishes a completed event.
func (s *QueueService) Complete(ctx context.Context, job *model.Job, result json.RawMessage) (bool, error) {
	completed, err := s.repo.Complete(ctx, job.ID, result)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if !completed {
		return false, nil
	}

	s.logger.DebugContext(ctx, "job completed", "id", job.ID, "queue", job.Queue)
	s.publish(domainjob.Event{
		Kind:     domainjob.EventCompleted,
		Queue:    job.Queue,
		JobID:    job.ID,
		JobName:  job.Name,
		DedupKey: derefString(job.DedupKey),
		Payload:  job.Payload,
		Result:   result,
		Attempts: job.RetryCount + 1,
	})
	return true, nil
}

// FailRequest records a failed attempt.
type FailRequest struct {
	Job        *model.Job
	Err        error
	RetryDelay time.Duration
	Permanent  bool
	ErrClass   string
}

// Fail records a failed attempt. A failed event is published when the job will not be
// retried.
func (s *QueueService) Fail(ctx context.Context, req FailRequest) (model.JobStatus, error) {
	if req.Job == nil || req.Err == nil {
		return "", errors.New("job and error are required")
	}

	status, err := s.repo.Fail(ctx, model.FailJobParams{
		ID:         req.Job.ID,
		Error:      req.Err.Error(),
		RetryDelay: req.RetryDelay,
		Permanent:  req.Permanent,
	})
	if err != nil {
		return "", fmt.Errorf("fail job %s: %w", req.Job.ID, err)
	}

	switch status {
	case model.JobStatusFailed:
		s.logger.WarnContext(ctx, "job failed",
			"id", req.Job.ID, "queue", req.Job.Queue, "permanent", req.Permanent, "error", req.Err)
		s.publish(domainjob.Event{
			Kind:     domainjob.EventFailed,
			Queue:    req.Job.Queue,
			JobID:    req.Job.ID,
			JobName:  req.Job.Name,
			DedupKey: derefString(req.Job.DedupKey),
			Payload:  req.Job.Payload,
			Err:      req.Err.Error(),
			ErrClass: req.ErrClass,
			Attempts: req.Job.RetryCount + 1,
		})
	case model.JobStatusPending:
		s.logger.InfoContext(ctx, "job will be retried",
			"id", req.Job.ID, "queue", req.Job.Queue, "retry_in", req.RetryDelay, "error", req.Err)
	}
	return status, nil
}

// Delay returns a running job to pending until until, without consuming an attempt.
func (s *QueueService) Delay(ctx context.Context, id string, until time.Time, reason string) (bool, error) {
	ok, err := s.repo.Delay(ctx, model.DelayJobParams{ID: id, Until: until, Reason: reason})
	if err != nil {
		return false, fmt.Errorf("delay job %s: %w", id, err)
	}
	return ok, nil
}

// Stats returns per-status job counts for queue.
func (s *QueueService) Stats(ctx context.Context, queue model.QueueName) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx, queue)
	if err != nil {
		return nil, fmt.Errorf("get job stats for queue %s: %w", queue, err)
	}
	return stats, nil
}

// GetByID returns a job by its ID.
func (s *QueueService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs matching opts. Pagination is clamped to 1..1000, default 50.
func (s *QueueService) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}
	p := normalizePagination(opts.Limit, opts.Offset)
	opts.Limit = p.Limit
	opts.Offset = p.Offset

	jobs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Schedule creates or replaces the recurring enqueue keyed by (queue, key). It reports
// whether anything changed.
func (s *QueueService) Schedule(ctx context.Context, req ScheduleRequest) (bool, error) {
	if s.schedules == nil {
		return false, errors.New("schedules repository not configured")
	}
	params := domain.UpsertTaskParams{
		Queue:         req.Queue,
		Key:           strings.TrimSpace(req.Key),
		CronPattern:   strings.TrimSpace(req.CronPattern),
		Template:      req.Template,
		OverrunPolicy: req.OverrunPolicy,
	}
	if err := params.Validate(); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}
	next, err := domain.ScheduledTask{CronPattern: params.CronPattern}.Next(s.now())
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}
	params.NextRunAt = next

	changed, err := s.schedules.Upsert(ctx, params)
	if err != nil {
		return false, fmt.Errorf("upsert schedule %s/%s: %w", req.Queue, params.Key, err)
	}
	if changed {
		s.logger.InfoContext(ctx, "schedule saved",
			"queue", req.Queue, "key", params.Key, "cron", params.CronPattern, "next_run_at", next)
	}
	return changed, nil
}

// Unschedule removes the recurring enqueue keyed by (queue, key).
func (s *QueueService) Unschedule(ctx context.Context, queue model.QueueName, key string) (bool, error) {
	if s.schedules == nil {
		return false, errors.New("schedules repository not configured")
	}
	removed, err := s.schedules.Delete(ctx, queue, key)
	if err != nil {
		return false, fmt.Errorf("delete schedule %s/%s: %w", queue, key, err)
	}
	if removed {
		s.logger.InfoContext(ctx, "schedule removed", "queue", queue, "key", key)
	}
	return removed, nil
}

// StopAllListeners stops all active job notification listeners.
func (s *QueueService) StopAllListeners() {
	s.logger.Info("stopping all job listeners")
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

func (s *QueueService) publish(ev domainjob.Event) {
	if s.events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.events.Publish(ev)
}

// paginationParams holds normalized pagination parameters.
type paginationParams struct {
	Limit  int
	Offset int
}

// normalizePagination clamps pagination parameters to safe defaults.
// Default limit: 50, max limit: 1000, min offset: 0.
func normalizePagination(limit, offset int) paginationParams {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return paginationParams{Limit: limit, Offset: offset}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
