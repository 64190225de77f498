package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/acme/shelfsort/internal/data/pgxutil"
	"github.com/acme/shelfsort/internal/domain"
	"github.com/acme/shelfsort/internal/domain/model"
)

// ScheduledJobsRepo provides database operations for the scheduler tick loop.
type ScheduledJobsRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduledJobsRepo creates a new ScheduledJobsRepo instance with the given database connection.
func NewScheduledJobsRepo(db *sql.DB) *ScheduledJobsRepo {
	return &ScheduledJobsRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewScheduledJobsRepoWithTimeProvider creates a ScheduledJobsRepo with a custom TimeProvider (useful for testing).
func NewScheduledJobsRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *ScheduledJobsRepo {
	return &ScheduledJobsRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

// fnvHash computes FNV-1a 64-bit hash of the given string for use as advisory lock key.
func fnvHash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	// Advisory locks accept BIGINT; constrain the unsigned hash into int64 range before casting.
	return int64(h.Sum64() & math.MaxInt64) // #nosec G115 -- masked to <= MaxInt64.
}

const scheduledJobColumns = `
  id,
  queue,
  key,
  cron_pattern,
  template,
  next_run_at,
  last_queued_at,
  overrun_policy,
  updated_at
`

// FindDueTx returns tasks whose next_run_at has passed. Rows stay locked FOR UPDATE SKIP LOCKED
// until tx ends, so concurrent schedulers never fire the same task twice.
func (r *ScheduledJobsRepo) FindDueTx(
	ctx context.Context,
	tx *sql.Tx,
	p domain.FindDueParams,
) ([]domain.ScheduledTask, error) {
	if p.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", p.Limit)
	}

	query := `
		SELECT ` + scheduledJobColumns + `
		FROM scheduled_jobs
		WHERE next_run_at <= $1
		ORDER BY next_run_at ASC, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.QueryContext(ctx, query, p.Now.UTC(), p.Limit)
	if err != nil {
		return nil, fmt.Errorf("query due scheduled tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		task, scanErr := scanScheduledTask(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		tasks = append(tasks, task)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate scheduled tasks: %w", rowsErr)
	}
	return tasks, nil
}

// MarkQueuedTx advances next_run_at within an existing transaction and stamps last_queued_at
// when the firing created a job.
// Return semantics:
//   - (true, nil): task found and updated
//   - (false, nil): task not found
//   - (false, err): update failed due to error
func (r *ScheduledJobsRepo) MarkQueuedTx(ctx context.Context, tx *sql.Tx, p domain.MarkQueuedParams) (bool, error) {
	if p.NextRunAt.IsZero() {
		return false, fmt.Errorf("next run time is required for task %s", p.ID)
	}

	var lastQueued any
	if p.Queued {
		lastQueued = p.Now.UTC()
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET next_run_at = $2,
			last_queued_at = COALESCE($3, last_queued_at),
			updated_at = $4
		WHERE id = $1
	`, p.ID, p.NextRunAt.UTC(), lastQueued, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update scheduled task (tx): %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected (tx): %w", err)
	}
	return rowsAffected > 0, nil
}

// TryWithTaskLock attempts to acquire an advisory lock for the given lock name.
// Uses FNV-1a 64-bit hash of lockName for the lock key.
// If the lock is acquired, executes fn within the same transaction.
// Return semantics:
//   - (false, nil): lock not acquired; fn was not executed
//   - (true, nil): lock acquired; fn executed and succeeded
//   - (true, err): lock acquired; fn executed and failed with err
func (r *ScheduledJobsRepo) TryWithTaskLock(
	ctx context.Context,
	lockName string,
	fn func(context.Context, *sql.Tx) error,
) (bool, error) {
	lockKey := fnvHash(lockName)

	var locked bool
	var fnErr error

	err := pgxutil.WithSQLTx(ctx, r.DB, nil, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockKey).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock %s: %w", lockName, err)
		}
		if !locked {
			return nil
		}

		// Commit whatever fn managed; its error is reported separately.
		fnErr = fn(ctx, tx)
		return nil
	})
	if err != nil {
		return false, err
	}
	return locked, fnErr
}

// scheduledTaskRow matches the scheduled_jobs columns in scheduledJobColumns order.
type scheduledTaskRow struct {
	ID            string
	Queue         string
	Key           string
	CronPattern   string
	Template      []byte
	NextRunAt     time.Time
	LastQueuedAt  sql.NullTime
	OverrunPolicy sql.NullString
	UpdatedAt     time.Time
}

func (r *scheduledTaskRow) toDomain() (domain.ScheduledTask, error) {
	task := domain.ScheduledTask{
		ID:          r.ID,
		Queue:       model.QueueName(r.Queue),
		Key:         r.Key,
		CronPattern: r.CronPattern,
		NextRunAt:   r.NextRunAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Template) > 0 {
		if err := json.Unmarshal(r.Template, &task.Template); err != nil {
			return domain.ScheduledTask{}, fmt.Errorf("decode template for %s/%s: %w", r.Queue, r.Key, err)
		}
	}
	if r.LastQueuedAt.Valid {
		t := r.LastQueuedAt.Time
		task.LastQueuedAt = &t
	}
	if r.OverrunPolicy.Valid {
		p := domain.OverrunPolicy(r.OverrunPolicy.String)
		task.OverrunPolicy = &p
	}
	return task, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduledTask(row rowScanner) (domain.ScheduledTask, error) {
	var dbRow scheduledTaskRow
	if err := row.Scan(
		&dbRow.ID,
		&dbRow.Queue,
		&dbRow.Key,
		&dbRow.CronPattern,
		&dbRow.Template,
		&dbRow.NextRunAt,
		&dbRow.LastQueuedAt,
		&dbRow.OverrunPolicy,
		&dbRow.UpdatedAt,
	); err != nil {
		return domain.ScheduledTask{}, fmt.Errorf("scan scheduled task row: %w", err)
	}
	return dbRow.toDomain()
}
