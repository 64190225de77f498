package data

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/data/pgxutil"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

// reaperLockClass is the first key of pg_try_advisory_xact_lock(class, op); each sweep
// uses its own op so instances only contend on the same sweep.
const reaperLockClass = 1000

type reaperSweep int

const (
	sweepStalePending reaperSweep = iota + 1
	sweepFinished
)

const failStalePendingSQL = `
UPDATE jobs
SET status = 'failed',
    last_error = 'job timed out in pending status',
    completed_at = $1,
    updated_at = $1
WHERE id IN (
    SELECT id FROM jobs
    WHERE status = 'pending' AND scheduled_at < $2
    ORDER BY scheduled_at
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)`

const deleteFinishedSQL = `
DELETE FROM jobs
WHERE id IN (
    SELECT id FROM jobs
    WHERE status = $1
      AND ($4 = '' OR queue = $4)
      AND COALESCE(completed_at, updated_at) < $2
    ORDER BY COALESCE(completed_at, updated_at)
    LIMIT $3
)`

// sweep executes one batch of a reaper statement under the sweep's advisory lock.
// A sweep already running on another instance is skipped and reports zero rows.
func (r *JobRepo) sweep(ctx context.Context, op reaperSweep, sql string, args func(now time.Time) []any) (int64, error) {
	var affected int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", reaperLockClass, int(op)).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			return nil
		}
		tag, err := tx.Exec(ctx, sql, args(r.timeProvider.Now().UTC())...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// FailStalePendingJobs fails up to batchSize pending jobs whose scheduled_at is older
// than maxAge, so delayed jobs are judged from when they became due.
func (r *JobRepo) FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, apperrors.ValidationField("batch_size", "batch size must be greater than zero")
	}
	n, err := r.sweep(ctx, sweepStalePending, failStalePendingSQL, func(now time.Time) []any {
		return []any{now, now.Add(-maxAge), batchSize}
	})
	if err != nil {
		return 0, fmt.Errorf("fail stale pending jobs: %w", err)
	}
	return n, nil
}

// DeleteOldJobs deletes one batch of jobs in params.Status that finished before MaxAge,
// optionally restricted to params.Queue.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Valid() {
		return 0, apperrors.ValidationField("status", "invalid job status: "+string(params.Status))
	}
	if params.BatchSize <= 0 {
		return 0, apperrors.ValidationField("batch_size", "batch size must be greater than zero")
	}
	n, err := r.sweep(ctx, sweepFinished, deleteFinishedSQL, func(now time.Time) []any {
		return []any{string(params.Status), now.Add(-params.MaxAge), params.BatchSize, string(params.Queue)}
	})
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return n, nil
}
