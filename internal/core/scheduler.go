package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/acme/shelfsort/internal/domain"
	"github.com/acme/shelfsort/internal/domain/model"
)

// ScheduledJobsRepository defines the interface for scheduled jobs data operations.
// It provides concurrency-safe operations for managing scheduled tasks.
type ScheduledJobsRepository interface {
	// FindDueTx returns tasks whose next_run_at has passed, locked FOR UPDATE SKIP LOCKED
	// until tx ends.
	FindDueTx(ctx context.Context, tx *sql.Tx, p domain.FindDueParams) ([]domain.ScheduledTask, error)

	// MarkQueuedTx advances next_run_at (and last_queued_at when a job was created).
	// Returns false when the task no longer exists.
	MarkQueuedTx(ctx context.Context, tx *sql.Tx, p domain.MarkQueuedParams) (bool, error)

	// TryWithTaskLock attempts to acquire an advisory lock for the given lock name.
	// Return semantics:
	//   - (false, nil): lock not acquired; fn was not executed
	//   - (true, nil): lock acquired; fn executed and succeeded
	//   - (true, err): lock acquired; fn executed and failed with err
	TryWithTaskLock(
		ctx context.Context,
		lockName string,
		fn func(context.Context, *sql.Tx) error,
	) (bool, error)
}

// ScheduledJobsAdminRepository manages schedules keyed by (queue, key).
type ScheduledJobsAdminRepository interface {
	// Upsert creates or replaces the schedule. It returns false when the stored pattern,
	// template and policy already match, in which case nothing is written.
	Upsert(ctx context.Context, req domain.UpsertTaskParams) (bool, error)
	// Delete removes the schedule and reports whether a row existed.
	Delete(ctx context.Context, queue model.QueueName, key string) (bool, error)
	// Get returns the schedule or a not found error.
	Get(ctx context.Context, queue model.QueueName, key string) (*domain.ScheduledTask, error)
}

// JobScheduler defines the interface for the scheduler service.
type JobScheduler interface {
	// Tick processes due scheduled tasks and returns the number of tasks fired.
	Tick(ctx context.Context, now time.Time) (int, error)
}

// SchedulerConfig holds configuration for the job scheduler.
type SchedulerConfig struct {
	BatchSize     int                  `json:"batch_size"`
	DefaultPolicy domain.OverrunPolicy `json:"default_policy"`
	RetryDelay    time.Duration        `json:"retry_delay"`
}

// DefaultSchedulerConfig returns a SchedulerConfig with sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:     25,
		DefaultPolicy: domain.OverrunPolicySkip,
		RetryDelay:    time.Minute,
	}
}

// JobTxCreator creates jobs inside a caller-owned transaction.
type JobTxCreator interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.CreateJobResult, error)
}
