// Package domain contains the recurring schedule entities shared by the scheduler service,
// its persistence layer and the admin surfaces.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/acme/shelfsort/internal/domain/model"
)

// JobTemplate is the job a schedule enqueues each time it fires.
type JobTemplate struct {
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority,omitempty"`
	GroupKey   string          `json:"group_key,omitempty"`
	MaxRetries int             `json:"max_retries,omitempty"`
}

// ScheduledTask is a cron entry keyed by (queue, key).
type ScheduledTask struct {
	ID            string          `json:"id"`
	Queue         model.QueueName `json:"queue"`
	Key           string          `json:"key"`
	CronPattern   string          `json:"cron_pattern"`
	Template      JobTemplate     `json:"template"`
	NextRunAt     time.Time       `json:"next_run_at"`
	LastQueuedAt  *time.Time      `json:"last_queued_at,omitempty"`
	OverrunPolicy *OverrunPolicy  `json:"overrun_policy,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DedupKey is the key that ties every firing of the task to a single in-flight job.
func (t ScheduledTask) DedupKey() string {
	return "schedule:" + string(t.Queue) + ":" + t.Key
}

// Next returns the first fire time strictly after from.
func (t ScheduledTask) Next(from time.Time) (time.Time, error) {
	sched, err := ParseCron(t.CronPattern)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// JobRequest builds the enqueue request for one firing. Unless the policy queues
// unconditionally, the request carries the task dedup key so an unfinished previous
// run absorbs it.
func (t ScheduledTask) JobRequest(policy OverrunPolicy) model.CreateJobRequest {
	req := model.CreateJobRequest{
		Queue:      t.Queue,
		Name:       t.Template.Name,
		Payload:    t.Template.Payload,
		Priority:   t.Template.Priority,
		GroupKey:   t.Template.GroupKey,
		MaxRetries: t.Template.MaxRetries,
	}
	if policy != OverrunPolicyQueue {
		req.DedupKey = t.DedupKey()
	}
	return req
}

// ParseCron parses a standard five-field cron expression. Descriptors such as
// @hourly are accepted as well.
func ParseCron(pattern string) (cron.Schedule, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, errors.New("cron pattern is required")
	}
	sched, err := cron.ParseStandard(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid cron pattern %q: %w", pattern, err)
	}
	return sched, nil
}

// OverrunPolicy defines what a firing does while the previous run is still unfinished.
type OverrunPolicy string

const (
	// OverrunPolicySkip drops the firing and waits for the next cron slot.
	OverrunPolicySkip OverrunPolicy = "skip"

	// OverrunPolicyQueue always enqueues a new job regardless of unfinished runs.
	OverrunPolicyQueue OverrunPolicy = "queue"

	// OverrunPolicyReschedule retries the firing shortly instead of waiting for the next slot.
	OverrunPolicyReschedule OverrunPolicy = "reschedule"
)

// Valid reports whether p is a known policy.
func (p OverrunPolicy) Valid() bool {
	switch p {
	case OverrunPolicySkip, OverrunPolicyQueue, OverrunPolicyReschedule:
		return true
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler to parse OverrunPolicy from env or text.
func (p *OverrunPolicy) UnmarshalText(text []byte) error {
	v := OverrunPolicy(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid OverrunPolicy: %q", v)
	}
	*p = v
	return nil
}

// FindDueParams holds inputs for transactional FindDue.
type FindDueParams struct {
	Now   time.Time
	Limit int
}

// MarkQueuedParams advances a task after a firing was handled.
// Queued is false when the firing was absorbed by an unfinished run.
type MarkQueuedParams struct {
	ID        string
	NextRunAt time.Time
	Now       time.Time
	Queued    bool
}

// UpsertTaskParams creates or replaces the schedule keyed by (Queue, Key).
type UpsertTaskParams struct {
	Queue         model.QueueName
	Key           string
	CronPattern   string
	Template      JobTemplate
	NextRunAt     time.Time
	OverrunPolicy *OverrunPolicy
}

// Validate checks the queue, key, cron pattern and template.
func (p UpsertTaskParams) Validate() error {
	if !p.Queue.Valid() {
		return fmt.Errorf("invalid queue %q", p.Queue)
	}
	if strings.TrimSpace(p.Key) == "" {
		return errors.New("schedule key is required")
	}
	if _, err := ParseCron(p.CronPattern); err != nil {
		return err
	}
	if strings.TrimSpace(p.Template.Name) == "" {
		return errors.New("template job name is required")
	}
	if len(p.Template.Payload) == 0 {
		return errors.New("template payload is required")
	}
	if p.OverrunPolicy != nil && !p.OverrunPolicy.Valid() {
		return fmt.Errorf("invalid overrun policy %q", *p.OverrunPolicy)
	}
	return nil
}
