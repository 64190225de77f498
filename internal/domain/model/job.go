// Package model defines the core data types shared by the shelfsort queue, planner and orchestrator.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// QueueName identifies a durable job queue.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type QueueName string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// QueueAutoSorting fans out push-down work for every active collection of a shop.
	QueueAutoSorting QueueName = "auto-sorting"
	// QueueBulkOperation starts upstream bulk exports for a single collection and finishes
	// them when the export is ready.
	QueueBulkOperation QueueName = "bulk-operation"
	// QueueHideProduct hides products that stayed out of stock.
	QueueHideProduct QueueName = "hide-product"

	// JobStatusPending indicates a job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job exhausted its attempts or was rejected.
	JobStatusFailed JobStatus = "failed"
)

// Job names carried inside each queue.
const (
	JobNameAutoSorting = "auto-sorting:run"
	JobNamePushDown    = "collections:push-down"
	JobNameBulkFinish  = "bulk-operations:finish"
	JobNameHideProduct = "products:hide"
)

// AllQueues lists every queue known to the system in a stable order.
func AllQueues() []QueueName {
	return []QueueName{QueueAutoSorting, QueueBulkOperation, QueueHideProduct}
}

// UnmarshalText implements encoding.TextUnmarshaler for QueueName to allow env parsing.
func (q *QueueName) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	qn := QueueName(v)
	if qn.Valid() {
		*q = qn
		return nil
	}
	return fmt.Errorf("invalid QueueName: %q", v)
}

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the QueueName is known.
func (q QueueName) Valid() bool {
	return q == QueueAutoSorting || q == QueueBulkOperation || q == QueueHideProduct
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal reports whether no further processing happens for a job in this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents a queued unit of work with its delivery bookkeeping.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Queue          QueueName       `json:"queue"                      db:"queue"`
	Name           string          `json:"name"                       db:"name"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	Metadata       json.RawMessage `json:"metadata"                   db:"metadata"`
	Result         json.RawMessage `json:"result,omitempty"           db:"result"`
	DedupKey       *string         `json:"dedup_key,omitempty"        db:"dedup_key"`
	DedupExpiresAt *time.Time      `json:"dedup_expires_at,omitempty" db:"dedup_expires_at"`
	GroupKey       *string         `json:"group_key,omitempty"        db:"group_key"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	Queue       QueueName       `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	DedupKey    string          `json:"dedup_key,omitempty"`
	DedupTTL    time.Duration   `json:"dedup_ttl,omitempty"`
	GroupKey    string          `json:"group_key,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries  int             `json:"max_retries"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Queue.Valid() {
		return errors.New("invalid queue")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("job name is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if r.DedupTTL < 0 {
		return errors.New("dedup ttl must be >= 0")
	}
	if r.DedupTTL > 0 && r.DedupKey == "" {
		return errors.New("dedup ttl requires a dedup key")
	}
	return nil
}

// CreateJobResult reports the job that now represents the request.
// Duplicated is true when an existing job absorbed the request through its dedup key.
type CreateJobResult struct {
	Job        *Job
	Duplicated bool
}

// JobStats represents statistics about jobs in different states.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobStatusResponse represents the status information for a specific job.
type JobStatusResponse struct {
	Status      JobStatus  `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// FailJobParams describes how a failed attempt is recorded.
// Permanent skips any remaining attempts; RetryDelay applies when attempts remain.
type FailJobParams struct {
	ID         string
	Error      string
	RetryDelay time.Duration
	Permanent  bool
}

// DelayJobParams moves a reserved job back to pending without consuming an attempt.
type DelayJobParams struct {
	ID     string
	Until  time.Time
	Reason string
}
