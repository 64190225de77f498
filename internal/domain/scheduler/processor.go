// Package scheduler decides, per due schedule entry, whether to enqueue a job and when
// the entry fires next.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acme/shelfsort/internal/domain"
	"github.com/acme/shelfsort/internal/domain/model"
)

// TaskStore executes scheduler persistence operations within the ambient transaction.
type TaskStore interface {
	MarkQueued(ctx context.Context, params domain.MarkQueuedParams) (bool, error)
}

// JobEnqueuer creates the job for a firing. Dedup absorption is reported via Duplicated.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, req model.CreateJobRequest) (*model.CreateJobResult, error)
}

// TaskProcessorOptions configures TaskProcessor defaults.
type TaskProcessorOptions struct {
	DefaultPolicy domain.OverrunPolicy
	// RetryDelay is how soon a rescheduled firing is retried.
	RetryDelay time.Duration
}

// TaskProcessor applies the overrun policy to due schedule entries.
type TaskProcessor struct {
	defaultPolicy domain.OverrunPolicy
	retryDelay    time.Duration
}

// NewTaskProcessor constructs a TaskProcessor with sane defaults.
func NewTaskProcessor(opts TaskProcessorOptions) *TaskProcessor {
	p := &TaskProcessor{defaultPolicy: opts.DefaultPolicy, retryDelay: opts.RetryDelay}
	if !p.defaultPolicy.Valid() {
		p.defaultPolicy = domain.OverrunPolicySkip
	}
	if p.retryDelay <= 0 {
		p.retryDelay = time.Minute
	}
	return p
}

// ProcessParams supplies the per-invocation collaborators for Process.
type ProcessParams struct {
	Task     domain.ScheduledTask
	Now      time.Time
	Store    TaskStore
	Enqueuer JobEnqueuer
}

// ProcessResult captures the outcome of processing a scheduled task.
type ProcessResult struct {
	Due        bool
	Enqueued   bool
	Duplicated bool
	JobID      string
	NextRunAt  time.Time
}

// Process fires the task when due and advances its next run time.
func (p *TaskProcessor) Process(ctx context.Context, params ProcessParams) (*ProcessResult, error) {
	if params.Store == nil {
		return nil, errors.New("task store is required")
	}
	if params.Enqueuer == nil {
		return nil, errors.New("job enqueuer is required")
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}

	task := params.Task
	result := &ProcessResult{NextRunAt: task.NextRunAt}
	if task.NextRunAt.After(now) {
		return result, nil
	}
	result.Due = true

	policy := p.resolvePolicy(task)
	res, err := params.Enqueuer.Enqueue(ctx, task.JobRequest(policy))
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	if res != nil && res.Job != nil {
		result.JobID = res.Job.ID
	}
	result.Duplicated = res != nil && res.Duplicated
	result.Enqueued = !result.Duplicated

	next, err := p.nextRun(task, policy, result.Duplicated, now)
	if err != nil {
		return nil, err
	}
	result.NextRunAt = next

	if _, err := params.Store.MarkQueued(ctx, domain.MarkQueuedParams{
		ID:        task.ID,
		NextRunAt: next,
		Now:       now,
		Queued:    result.Enqueued,
	}); err != nil {
		return nil, fmt.Errorf("mark task queued: %w", err)
	}
	return result, nil
}

func (p *TaskProcessor) resolvePolicy(task domain.ScheduledTask) domain.OverrunPolicy {
	if task.OverrunPolicy != nil && task.OverrunPolicy.Valid() {
		return *task.OverrunPolicy
	}
	return p.defaultPolicy
}

func (p *TaskProcessor) nextRun(
	task domain.ScheduledTask,
	policy domain.OverrunPolicy,
	duplicated bool,
	now time.Time,
) (time.Time, error) {
	if duplicated && policy == domain.OverrunPolicyReschedule {
		return now.Add(p.retryDelay), nil
	}
	next, err := task.Next(now)
	if err != nil {
		return time.Time{}, fmt.Errorf("compute next run for %s: %w", task.Key, err)
	}
	return next, nil
}
