package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/acme/shelfsort/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for durable queue operations.
type JobRepository interface {
	// Create inserts a job unless a live job with the same (queue, dedup key) absorbs it.
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.CreateJobResult, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ReserveNext(ctx context.Context, queue model.QueueName, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context, queue model.QueueName) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string, result json.RawMessage) (bool, error)
	// Fail records a failed attempt and returns the resulting status.
	Fail(ctx context.Context, params model.FailJobParams) (model.JobStatus, error)
	// Delay returns a reserved job to pending without consuming an attempt.
	Delay(ctx context.Context, params model.DelayJobParams) (bool, error)
	Stats(ctx context.Context, queue model.QueueName) (*model.JobStats, error)
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
}

// BulkOperationRepository persists the local mirror of upstream bulk operations.
type BulkOperationRepository interface {
	Create(ctx context.Context, req *model.CreateBulkOperationRequest) (*model.BulkOperation, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.BulkOperation, error)
	MarkRunning(ctx context.Context, externalID string) (bool, error)
	Finish(ctx context.Context, req *model.FinishBulkOperationRequest) (*model.BulkOperation, error)
	List(ctx context.Context, opts *model.BulkOperationListOptions) ([]*model.BulkOperation, error)
}

// CollectionRepository persists collections tracked for push-down.
type CollectionRepository interface {
	Get(ctx context.Context, shop, collectionID string) (*model.Collection, error)
	Upsert(ctx context.Context, c *model.Collection) (*model.Collection, error)
	Update(ctx context.Context, params UpdateCollectionParams) (*model.Collection, error)
	ListActive(ctx context.Context, shop string) ([]*model.Collection, error)
	// ListActiveByIDs returns the active collections among ids.
	ListActiveByIDs(ctx context.Context, shop string, ids []string) ([]*model.Collection, error)
}

// UpdateCollectionParams groups parameters for CollectionRepository.Update.
type UpdateCollectionParams struct {
	Shop         string
	CollectionID string
	Req          model.UpdateCollectionRequest
}

// MerchantRepository persists per-shop settings.
type MerchantRepository interface {
	Get(ctx context.Context, shop string) (*model.MerchantConfig, error)
	Upsert(ctx context.Context, cfg *model.MerchantConfig) (*model.MerchantConfig, error)
	ListActive(ctx context.Context) ([]*model.MerchantConfig, error)
}

// ProductRepository persists product stock snapshots.
type ProductRepository interface {
	Get(ctx context.Context, shop, productID string) (*model.Product, error)
	// Upsert saves the snapshot and the hide state implied by its stock status.
	Upsert(ctx context.Context, p *model.Product) error
	// SetHidden stamps (or clears, when At is nil) hidden_at and always clears the scheduled hide.
	SetHidden(ctx context.Context, params ScheduleHideParams) error
}

// ScheduleHideParams sets or clears (At == nil) a product timestamp.
type ScheduleHideParams struct {
	Shop      string
	ProductID string
	At        *time.Time
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs to keep param count ≤3.
// An empty Queue matches every queue.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	Queue     model.QueueName
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for job cleanup operations.
type ReaperRepository interface {
	// FailStalePendingJobs marks pending jobs older than maxAge as failed.
	// Processes up to batchSize jobs per call to prevent long locks.
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// DeleteOldJobs deletes jobs with the given status older than maxAge.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// BulkOperationReaper fails bulk operations that never reached a terminal state.
type BulkOperationReaper interface {
	// FailStaleBulkOperations marks CREATED or RUNNING operations not updated within maxAge
	// as FAILED. Processes up to batchSize rows per call.
	FailStaleBulkOperations(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// RateLimiter grants at most Max tokens per window for a group key.
type RateLimiter interface {
	// Allow consumes one token for key. When denied it reports how long until the window resets.
	Allow(ctx context.Context, key string, limit RateLimit) (bool, time.Duration, error)
}

// RateLimit is a fixed-window budget.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// Enabled reports whether the limit constrains anything.
func (l RateLimit) Enabled() bool { return l.Max > 0 && l.Window > 0 }
