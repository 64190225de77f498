package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/acme/shelfsort/internal/data/pgxutil"
	"github.com/acme/shelfsort/internal/domain/model"
)

// SQL used by ReserveNext to atomically reserve the next job.
var reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE queue = $1 AND status = 'pending' AND scheduled_at <= $2
    ORDER BY priority DESC, scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = COALESCE(j.started_at, $2),
    lease_expires_at = $3,
    updated_at = $2
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + prefixedJobColumns("j")

// Advisory lock namespace for dedup checks. Single-key locks hash (queue, dedup key).
const advisoryLockDedupSeed = "shelfsort:dedup:"

func advisoryLockDedupKey(queue model.QueueName, dedupKey string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(advisoryLockDedupSeed))
	_, _ = h.Write([]byte(queue))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(dedupKey))
	return int64(h.Sum64() & math.MaxInt64)
}

// Create inserts a job unless a live job with the same (queue, dedup key) absorbs it.
func (r *JobRepo) Create(
	ctx context.Context,
	req *model.CreateJobRequest,
) (*model.CreateJobResult, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	var res *model.CreateJobResult
	if txErr := pgxutil.WithSQLTx(ctx, r.DB, nil, func(tx *sql.Tx) error {
		var createErr error
		res, createErr = r.createInTx(ctx, tx, req)
		return createErr
	}); txErr != nil {
		return nil, txErr
	}

	return res, nil
}

// CreateInTx runs Create inside an existing transaction. The job becomes visible and
// workers are notified when the caller commits.
func (r *JobRepo) CreateInTx(
	ctx context.Context,
	sqlTx *sql.Tx,
	req *model.CreateJobRequest,
) (*model.CreateJobResult, error) {
	if sqlTx == nil {
		return nil, errors.New("transaction is required")
	}
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}
	return r.createInTx(ctx, sqlTx, req)
}

func (r *JobRepo) createInTx(
	ctx context.Context,
	tx *sql.Tx,
	req *model.CreateJobRequest,
) (*model.CreateJobResult, error) {
	now := r.timeProvider.Now().UTC()

	if req.DedupKey != "" {
		existing, err := r.findLiveDuplicate(ctx, tx, req, now)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &model.CreateJobResult{Job: existing, Duplicated: true}, nil
		}
	}

	query, args := r.buildInsertQuery(req, now)
	job, err := scanJobFromRow(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	if _, notifyErr := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, notifyChannel(string(req.Queue)), job.ID); notifyErr != nil {
		return nil, fmt.Errorf("send job notification: %w", notifyErr)
	}

	return &model.CreateJobResult{Job: job}, nil
}

// findLiveDuplicate serializes concurrent enqueues of one dedup key with a transaction
// scoped advisory lock, then looks for a non-terminal job still inside its dedup window.
func (r *JobRepo) findLiveDuplicate(
	ctx context.Context,
	tx *sql.Tx,
	req *model.CreateJobRequest,
	now time.Time,
) (*model.Job, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockDedupKey(req.Queue, req.DedupKey)); err != nil {
		return nil, fmt.Errorf("acquire dedup lock: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE queue = $1
		  AND dedup_key = $2
		  AND status IN ('pending', 'running')
		  AND (dedup_expires_at IS NULL OR dedup_expires_at > $3)
		ORDER BY created_at DESC
		LIMIT 1
	`, req.Queue, req.DedupKey, now)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate job: %w", err)
	}
	return job, nil
}

// buildInsertQuery builds the INSERT statement for a job request.
func (r *JobRepo) buildInsertQuery(req *model.CreateJobRequest, now time.Time) (string, []any) {
	query := `
      INSERT INTO jobs(queue, name, status, priority, payload, metadata, dedup_key, dedup_expires_at,
                       group_key, scheduled_at, max_retries, created_at, updated_at)
      VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
      RETURNING ` + jobColumns

	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	var dedupKey, groupKey, dedupExpiresAt any
	if req.DedupKey != "" {
		dedupKey = req.DedupKey
		if req.DedupTTL > 0 {
			dedupExpiresAt = now.Add(req.DedupTTL)
		}
	}
	if req.GroupKey != "" {
		groupKey = req.GroupKey
	}

	maxAttempts := req.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = r.cfg.DefaultMaxAttempts
	}

	meta := []byte(`{}`)
	if len(req.Metadata) > 0 {
		meta = req.Metadata
	}

	args := []any{
		req.Queue,
		req.Name,
		req.Priority,
		[]byte(req.Payload),
		meta,
		dedupKey,
		dedupExpiresAt,
		groupKey,
		scheduledAt,
		maxAttempts,
		now,
	}
	return query, args
}

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload, metadata, result                        []byte
	dedupKey, groupKey, lastError                    sql.NullString
	dedupExpiresAt, startedAt, completedAt, leaseExp sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Queue,
		&job.Name,
		&job.Status,
		&job.Priority,
		&d.payload,
		&d.metadata,
		&d.result,
		&d.dedupKey,
		&d.dedupExpiresAt,
		&d.groupKey,
		&job.ScheduledAt,
		&d.startedAt,
		&d.completedAt,
		&job.RetryCount,
		&job.MaxRetries,
		&d.lastError,
		&d.leaseExp,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Payload = cloneJSON(d.payload)
	job.Metadata = cloneJSON(d.metadata)
	if len(d.result) > 0 {
		job.Result = append(json.RawMessage(nil), d.result...)
	}
	job.DedupKey = cloneNullableString(d.dedupKey)
	job.GroupKey = cloneNullableString(d.groupKey)
	job.LastError = cloneNullableString(d.lastError)
	job.DedupExpiresAt = cloneNullableTime(d.dedupExpiresAt)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExp)
	job.ScheduledAt = job.ScheduledAt.UTC()
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Advisory lock namespace for requeueExpired to avoid cross-queue contention.
const advisoryLockRequeueMajor int64 = 1001

func advisoryLockRequeueMinor(queue model.QueueName) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(queue))
	return int64(h.Sum32() & uint32(math.MaxInt32))
}

// requeueExpired returns running jobs whose lease lapsed to pending and reports how many moved.
func (r *JobRepo) requeueExpired(ctx context.Context, queue model.QueueName) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, nil, func(tx *sql.Tx) error {
		var locked bool
		minorKey := advisoryLockRequeueMinor(queue)
		if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)", advisoryLockRequeueMajor, minorKey).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			return nil
		}

		now := r.timeProvider.Now().UTC()
		res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET status = 'pending', lease_expires_at = NULL, updated_at = $2
          WHERE queue = $1 AND status = 'running'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $2
        `, queue, now)
		if err != nil {
			return fmt.Errorf("requeue expired: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rowsAffected = ra
		return nil
	})
	if err != nil {
		return 0, err
	}
	if rowsAffected > 0 && r.logger != nil {
		r.logger.WarnContext(ctx, "requeued jobs with expired leases", "queue", queue, "count", rowsAffected)
	}
	return rowsAffected, nil
}

// ReserveNext reserves the next due job of the queue for processing.
func (r *JobRepo) ReserveNext(
	ctx context.Context,
	queue model.QueueName,
	leaseSeconds int,
) (*model.Job, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("invalid queue: %s", queue)
	}
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}

	if _, err := r.requeueExpired(ctx, queue); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		now := r.timeProvider.Now().UTC()
		leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)

		rows, qerr := tx.Query(ctx, reserveNextUpdateSQL, queue, now, leaseExpiresAt)
		if qerr != nil {
			return fmt.Errorf("reserve job: %w", qerr)
		}
		defer rows.Close()

		j, cerr := collectJobFromRows(rows)
		if errors.Is(cerr, pgx.ErrNoRows) {
			return model.ErrNoJobsAvailable
		}
		if cerr != nil {
			return fmt.Errorf("reserve job: %w", cerr)
		}
		job = j
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a running job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	now := r.timeProvider.Now().UTC()
	leaseExpiration := now.Add(time.Duration(leaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, jobID, leaseExpiration, now)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Complete marks a running job as completed and stores its result.
func (r *JobRepo) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	now := r.timeProvider.Now().UTC()

	var resultArg any
	if len(result) > 0 {
		resultArg = []byte(result)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    result = $2,
		    completed_at = $3,
		    updated_at = $3,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, id, resultArg, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Fail records a failed attempt. The job returns to pending at now+RetryDelay while attempts
// remain; otherwise, or when Permanent is set, it becomes failed. The empty status is
// returned when the job was not running.
func (r *JobRepo) Fail(ctx context.Context, params model.FailJobParams) (model.JobStatus, error) {
	if params.ID == "" {
		return "", errors.New("job id is required")
	}
	now := r.timeProvider.Now().UTC()
	retryAt := now.Add(max(params.RetryDelay, 0))

	query := `
      UPDATE jobs
      SET
        last_error = $2,
        retry_count = retry_count + 1,
        status = CASE WHEN $5 OR retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
        completed_at = CASE WHEN $5 OR retry_count + 1 >= max_retries THEN $3::timestamptz ELSE NULL END,
        lease_expires_at = NULL,
        scheduled_at = CASE WHEN $5 OR retry_count + 1 >= max_retries THEN scheduled_at
                            ELSE $4::timestamptz END,
        updated_at = $3
      WHERE id = $1 AND status = 'running'
      RETURNING status
    `

	var status string
	if err := r.DB.QueryRowContext(ctx, query, params.ID, params.Error, now, retryAt, params.Permanent).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("fail job: %w", err)
	}
	return model.JobStatus(status), nil
}

// Delay returns a running job to pending until the given time without consuming an attempt.
func (r *JobRepo) Delay(ctx context.Context, params model.DelayJobParams) (bool, error) {
	if params.ID == "" {
		return false, errors.New("job id is required")
	}
	now := r.timeProvider.Now().UTC()
	until := params.Until.UTC()
	if until.Before(now) {
		until = now
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    scheduled_at = $2,
		    lease_expires_at = NULL,
		    metadata = metadata || jsonb_build_object('delay_reason', $3::text),
		    updated_at = $4
		WHERE id = $1 AND status = 'running'
	`, params.ID, until, params.Reason, now)
	if err != nil {
		return false, fmt.Errorf("delay job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delay rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Stats returns statistics about jobs of the queue in different states.
func (r *JobRepo) Stats(ctx context.Context, queue model.QueueName) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed
  FROM jobs
  WHERE queue = $1
  `, queue).Scan(
		&s.Pending,
		&s.Running,
		&s.Completed,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification blocks until a job is added to the queue or ctx ends.
func (r *JobRepo) WaitForNotification(ctx context.Context, queue model.QueueName) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	channel := notifyChannel(string(queue))
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}
