package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/data/pgxutil"
	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

const collectionColumns = `collection_id, shop, title, current_sorting, is_active, oos_count,
	last_run_at, last_sorted_at, created_at, updated_at`

// CollectionRepo provides database operations for tracked collections.
type CollectionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCollectionRepo creates a new CollectionRepo with real time provider.
func NewCollectionRepo(db *sql.DB) *CollectionRepo {
	return &CollectionRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewCollectionRepoWithTimeProvider creates a new CollectionRepo with a custom time provider (useful for tests).
func NewCollectionRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *CollectionRepo {
	return &CollectionRepo{DB: db, timeProvider: tp}
}

func (r *CollectionRepo) queryOne(ctx context.Context, query string, args ...any) (*model.Collection, error) {
	var out model.Collection
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Collection])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCollectionNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (r *CollectionRepo) queryMany(ctx context.Context, query string, args ...any) ([]*model.Collection, error) {
	return pgxutil.CollectRows(ctx, r.DB, pgx.RowToAddrOfStructByName[model.Collection], query, args...)
}

// Get retrieves a collection by shop and legacy id.
func (r *CollectionRepo) Get(ctx context.Context, shop, collectionID string) (*model.Collection, error) {
	out, err := r.queryOne(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE shop = $1 AND collection_id = $2`,
		shop, collectionID)
	if err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return nil, fmt.Errorf("failed to get collection %s: %w", collectionID, err)
	}
	return out, err
}

// Upsert inserts a collection or refreshes its title, sorting and active flag.
func (r *CollectionRepo) Upsert(ctx context.Context, c *model.Collection) (*model.Collection, error) {
	if c == nil {
		return nil, errors.New("collection is required")
	}
	if c.Shop == "" || c.ID == "" {
		return nil, errors.New("collection shop and id are required")
	}
	sorting := c.CurrentSorting
	if sorting == "" {
		sorting = model.CollectionSortingBestSelling
	}
	now := r.timeProvider.Now().UTC()
	out, err := r.queryOne(ctx, `
		INSERT INTO collections (shop, collection_id, title, current_sorting, is_active, oos_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (shop, collection_id) DO UPDATE SET
			title = EXCLUDED.title,
			current_sorting = EXCLUDED.current_sorting,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING `+collectionColumns,
		c.Shop, c.ID, c.Title, string(sorting), c.IsActive, c.OOSCount, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert collection %s: %w", c.ID, apperrors.MapDBError(err))
	}
	return out, nil
}

func buildCollectionUpdateClause(req model.UpdateCollectionRequest) (string, []any) {
	var setParts []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		setParts = append(setParts, col+" = $"+strconv.Itoa(len(args)))
	}
	if req.Title != nil {
		add("title", *req.Title)
	}
	if req.CurrentSorting != nil {
		add("current_sorting", string(*req.CurrentSorting))
	}
	if req.IsActive != nil {
		add("is_active", *req.IsActive)
	}
	if req.OOSCount != nil {
		add("oos_count", *req.OOSCount)
	}
	if req.LastRunAt != nil {
		add("last_run_at", req.LastRunAt.UTC())
	}
	if req.LastSortedAt != nil {
		add("last_sorted_at", req.LastSortedAt.UTC())
	}
	return strings.Join(setParts, ", "), args
}

// Update applies the set fields of params.Req and returns the stored collection.
func (r *CollectionRepo) Update(ctx context.Context, params core.UpdateCollectionParams) (*model.Collection, error) {
	if !params.Req.HasChanges() {
		return r.Get(ctx, params.Shop, params.CollectionID)
	}
	setClause, args := buildCollectionUpdateClause(params.Req)
	args = append(args, r.timeProvider.Now().UTC(), params.Shop, params.CollectionID)
	n := len(args)
	query := "UPDATE collections SET " + setClause +
		", updated_at = $" + strconv.Itoa(n-2) +
		" WHERE shop = $" + strconv.Itoa(n-1) +
		" AND collection_id = $" + strconv.Itoa(n) +
		" RETURNING " + collectionColumns

	out, err := r.queryOne(ctx, query, args...)
	if err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return nil, fmt.Errorf("failed to update collection %s: %w", params.CollectionID, err)
	}
	return out, err
}

// ListActive returns the shop's active collections ordered by id.
func (r *CollectionRepo) ListActive(ctx context.Context, shop string) ([]*model.Collection, error) {
	out, err := r.queryMany(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE shop = $1 AND is_active ORDER BY collection_id`,
		shop)
	if err != nil {
		return nil, fmt.Errorf("failed to list active collections: %w", err)
	}
	return out, nil
}

// ListActiveByIDs returns the active collections among ids.
func (r *CollectionRepo) ListActiveByIDs(ctx context.Context, shop string, ids []string) ([]*model.Collection, error) {
	if len(ids) == 0 {
		return []*model.Collection{}, nil
	}
	out, err := r.queryMany(ctx, `
		SELECT `+collectionColumns+`
		FROM collections
		WHERE shop = $1 AND is_active AND collection_id = ANY($2)
		ORDER BY collection_id`,
		shop, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list active collections by id: %w", err)
	}
	return out, nil
}
