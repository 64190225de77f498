package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/acme/shelfsort/internal/domain"
	"github.com/acme/shelfsort/internal/domain/model"
)

// ScheduledJobsAdminRepo provides admin operations for scheduled_jobs keyed by (queue, key).
// This is separate from the concurrency-focused ScheduledJobsRepo used by the scheduler tick loop.
type ScheduledJobsAdminRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduledJobsAdminRepo creates a new ScheduledJobsAdminRepo instance with the given database connection.
func NewScheduledJobsAdminRepo(db *sql.DB) *ScheduledJobsAdminRepo {
	return &ScheduledJobsAdminRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewScheduledJobsAdminRepoWithTimeProvider allows injecting a custom time provider (for testing).
func NewScheduledJobsAdminRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ScheduledJobsAdminRepo {
	return &ScheduledJobsAdminRepo{DB: db, timeProvider: tp}
}

// Upsert creates or replaces the schedule. Re-registering an identical schedule keeps its
// next_run_at and reports false; a changed pattern or template restarts from req.NextRunAt.
func (r *ScheduledJobsAdminRepo) Upsert(ctx context.Context, req domain.UpsertTaskParams) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}
	now := r.timeProvider.Now().UTC()
	next := req.NextRunAt
	if next.IsZero() {
		sched, err := domain.ParseCron(req.CronPattern)
		if err != nil {
			return false, err
		}
		next = sched.Next(now)
	}

	template, err := json.Marshal(req.Template)
	if err != nil {
		return false, fmt.Errorf("encode template: %w", err)
	}

	var policyVal any
	if req.OverrunPolicy != nil {
		policyVal = string(*req.OverrunPolicy)
	}

	// The WHERE clause turns an identical re-registration into a no-op so restarts do not
	// push next_run_at forward.
	q := `
		INSERT INTO scheduled_jobs (queue, key, cron_pattern, template, overrun_policy, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (queue, key) DO UPDATE
		SET cron_pattern = EXCLUDED.cron_pattern,
			template = EXCLUDED.template,
			overrun_policy = EXCLUDED.overrun_policy,
			next_run_at = EXCLUDED.next_run_at,
			updated_at = EXCLUDED.updated_at
		WHERE scheduled_jobs.cron_pattern IS DISTINCT FROM EXCLUDED.cron_pattern
		   OR scheduled_jobs.template IS DISTINCT FROM EXCLUDED.template
		   OR scheduled_jobs.overrun_policy IS DISTINCT FROM EXCLUDED.overrun_policy
	`
	res, err := r.DB.ExecContext(ctx, q,
		string(req.Queue), strings.TrimSpace(req.Key), strings.TrimSpace(req.CronPattern),
		template, policyVal, next.UTC(), now)
	if err != nil {
		return false, fmt.Errorf("upsert scheduled_job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes the schedule identified by (queue, key).
func (r *ScheduledJobsAdminRepo) Delete(ctx context.Context, queue model.QueueName, key string) (bool, error) {
	if key == "" {
		return false, errors.New("schedule key is required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE queue = $1 AND key = $2`, string(queue), key)
	if err != nil {
		return false, fmt.Errorf("delete scheduled_job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Get returns the schedule identified by (queue, key).
func (r *ScheduledJobsAdminRepo) Get(ctx context.Context, queue model.QueueName, key string) (*domain.ScheduledTask, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE queue = $1 AND key = $2`,
		string(queue), key)
	task, err := scanScheduledTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScheduledTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}
