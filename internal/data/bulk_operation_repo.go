package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/acme/shelfsort/internal/data/database"
	"github.com/acme/shelfsort/internal/data/pgxutil"
	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

var bulkOperationColumnList = []string{
	"id", "external_id", "shop", "collection_id", "action", "status", "error_code", "object_count",
	"moves_planned", "moves_applied", "job_payload", "last_error", "created_at", "completed_at", "updated_at",
}

const bulkOperationColumns = `id, external_id, shop, collection_id, action, status, error_code, object_count,
	moves_planned, moves_applied, job_payload, last_error, created_at, completed_at, updated_at`

// BulkOperationRepo mirrors upstream bulk operations locally.
type BulkOperationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewBulkOperationRepo creates a new BulkOperationRepo with real time provider.
func NewBulkOperationRepo(db *sql.DB) *BulkOperationRepo {
	return &BulkOperationRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewBulkOperationRepoWithTimeProvider creates a new BulkOperationRepo with a custom time provider (useful for tests).
func NewBulkOperationRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *BulkOperationRepo {
	return &BulkOperationRepo{DB: db, timeProvider: tp}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (r *BulkOperationRepo) queryOne(ctx context.Context, query string, args ...any) (*model.BulkOperation, error) {
	var out model.BulkOperation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.BulkOperation])
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Create records a freshly started export in CREATED state.
func (r *BulkOperationRepo) Create(
	ctx context.Context,
	req *model.CreateBulkOperationRequest,
) (*model.BulkOperation, error) {
	if req == nil {
		return nil, errors.New("create bulk operation request is required")
	}
	if req.ExternalID == "" || req.Shop == "" || req.CollectionID == "" {
		return nil, errors.New("external id, shop and collection id are required")
	}
	action := req.Action
	if action == "" {
		action = model.BulkOperationActionPushDown
	}
	payload := []byte(req.JobPayload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.timeProvider.Now()
	}

	out, err := r.queryOne(ctx, `
		INSERT INTO bulk_operations (external_id, shop, collection_id, action, status, job_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'CREATED', $5, $6, $7)
		RETURNING `+bulkOperationColumns,
		req.ExternalID, req.Shop, req.CollectionID, string(action), payload,
		createdAt.UTC(), r.timeProvider.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrBulkOperationExists
		}
		return nil, fmt.Errorf("failed to create bulk operation: %w", err)
	}
	return out, nil
}

// GetByExternalID looks an operation up by its upstream gid.
func (r *BulkOperationRepo) GetByExternalID(ctx context.Context, externalID string) (*model.BulkOperation, error) {
	out, err := r.queryOne(ctx, `SELECT `+bulkOperationColumns+` FROM bulk_operations WHERE external_id = $1`, externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBulkOperationNotFound
		}
		return nil, fmt.Errorf("failed to get bulk operation: %w", err)
	}
	return out, nil
}

// MarkRunning moves a CREATED operation to RUNNING. It reports false when the operation
// already left CREATED, which makes repeated finish webhooks harmless.
func (r *BulkOperationRepo) MarkRunning(ctx context.Context, externalID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE bulk_operations SET status = 'RUNNING', updated_at = $2
		WHERE external_id = $1 AND status = 'CREATED'
	`, externalID, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark bulk operation running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Finish records a terminal status with its counters. The transition is checked under a
// row lock so two finishers cannot both write a terminal state.
func (r *BulkOperationRepo) Finish(
	ctx context.Context,
	req *model.FinishBulkOperationRequest,
) (*model.BulkOperation, error) {
	if req == nil {
		return nil, errors.New("finish bulk operation request is required")
	}
	if !req.Status.Terminal() {
		return nil, fmt.Errorf("finish requires a terminal status, got %s", req.Status)
	}

	var out model.BulkOperation
	err := pgxutil.WithPgxTx(ctx, r.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx,
			`SELECT status FROM bulk_operations WHERE external_id = $1 FOR UPDATE`,
			req.ExternalID).Scan(&current); err != nil {
			return err
		}
		if !model.BulkOperationStatus(current).CanTransition(req.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrBulkOperationBadTransition, current, req.Status)
		}

		now := r.timeProvider.Now().UTC()
		completedAt := utcPtr(req.CompletedAt)
		if completedAt == nil {
			completedAt = &now
		}
		rows, err := tx.Query(ctx, `
			UPDATE bulk_operations SET
				status = $2,
				error_code = COALESCE($3, error_code),
				object_count = COALESCE($4, object_count),
				moves_planned = COALESCE($5, moves_planned),
				moves_applied = COALESCE($6, moves_applied),
				last_error = COALESCE($7, last_error),
				completed_at = $8,
				updated_at = $9
			WHERE external_id = $1
			RETURNING `+bulkOperationColumns,
			req.ExternalID, string(req.Status), req.ErrorCode, req.ObjectCount,
			req.MovesPlanned, req.MovesApplied, req.LastError, *completedAt, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.BulkOperation])
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrBulkOperationNotFound
		case errors.Is(err, ErrBulkOperationBadTransition):
			return nil, err
		default:
			return nil, fmt.Errorf("failed to finish bulk operation: %w", err)
		}
	}
	return &out, nil
}

// staleBulkOperationError is recorded on operations closed by the reaper.
const staleBulkOperationError = "bulk operation did not finish in time"

// FailStaleBulkOperations marks up to batchSize CREATED or RUNNING operations that have not
// been updated within maxAge as FAILED. Rows locked by a concurrent Finish are skipped.
func (r *BulkOperationRepo) FailStaleBulkOperations(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, apperrors.ValidationField("batch_size", "batch size must be greater than zero")
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE bulk_operations
		SET status = 'FAILED',
		    last_error = COALESCE(last_error, $3),
		    completed_at = $1,
		    updated_at = $1
		WHERE id IN (
		    SELECT id FROM bulk_operations
		    WHERE status IN ('CREATED', 'RUNNING') AND updated_at < $2
		    ORDER BY updated_at
		    LIMIT $4
		    FOR UPDATE SKIP LOCKED
		)`, now, now.Add(-maxAge), staleBulkOperationError, batchSize)
	if err != nil {
		return 0, fmt.Errorf("fail stale bulk operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// List returns operations newest first, filtered by shop, collection and status.
func (r *BulkOperationRepo) List(
	ctx context.Context,
	opts *model.BulkOperationListOptions,
) ([]*model.BulkOperation, error) {
	if opts == nil {
		opts = &model.BulkOperationListOptions{}
	}
	limit, offset := normalizePagination(opts.Limit, opts.Offset)

	queryOpts := []database.ListQueryOption{
		database.WithColumns(bulkOperationColumnList...),
		database.WithEqualIfSet("shop", opts.Shop),
		database.WithEqualIfSet("collection_id", opts.CollectionID),
		database.WithOrderBy("created_at", "DESC"),
		database.WithTiebreak("id"),
		database.WithLimit(limit),
		database.WithOffset(offset),
	}
	if opts.Status != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("status", database.Equal, string(*opts.Status))))
	}
	query, args := database.BuildListQuery(database.NewListQueryOptions("bulk_operations", queryOpts...))

	res, err := pgxutil.CollectRows(ctx, r.DB, pgx.RowToAddrOfStructByName[model.BulkOperation], query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bulk operations: %w", err)
	}
	return res, nil
}
