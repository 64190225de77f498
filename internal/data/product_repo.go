package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/data/pgxutil"
	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

const productColumns = `product_id, shop, title, handle, status, tags, variants_count, has_continue_selling,
	has_out_of_stock_variants, oos, oos_at, hidden_at, scheduled_hidden_at, updated_at`

// ProductRepo persists product stock snapshots.
type ProductRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewProductRepo creates a new ProductRepo with real time provider.
func NewProductRepo(db *sql.DB) *ProductRepo {
	return &ProductRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewProductRepoWithTimeProvider creates a new ProductRepo with a custom time provider (useful for tests).
func NewProductRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ProductRepo {
	return &ProductRepo{DB: db, timeProvider: tp}
}

// Get returns the stored snapshot, or ErrProductNotFound.
func (r *ProductRepo) Get(ctx context.Context, shop, productID string) (*model.Product, error) {
	var out model.Product
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+productColumns+` FROM products WHERE shop = $1 AND product_id = $2`,
			shop, productID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Product])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product %s: %w", productID, err)
	}
	return &out, nil
}

// Upsert writes the snapshot together with the hide state it implies, so a stock
// transition is recorded in one statement. A back-in-stock snapshot clears hidden_at and
// scheduled_hidden_at. An out-of-stock snapshot keeps hidden_at, which only the hide job
// sets, and stamps p.ScheduledHiddenAt when given unless the product is already hidden.
func (r *ProductRepo) Upsert(ctx context.Context, p *model.Product) error {
	if p == nil {
		return errors.New("product is required")
	}
	if p.Shop == "" || p.ID == "" {
		return errors.New("product shop and id are required")
	}
	status := p.Status
	if status == "" {
		status = model.ProductStatusActive
	}
	var scheduled *time.Time
	if p.OOS {
		scheduled = utcPtr(p.ScheduledHiddenAt)
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO products (
			shop, product_id, title, handle, status, tags, variants_count,
			has_continue_selling, has_out_of_stock_variants, oos, oos_at, scheduled_hidden_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (shop, product_id) DO UPDATE SET
			title = EXCLUDED.title,
			handle = EXCLUDED.handle,
			status = EXCLUDED.status,
			tags = EXCLUDED.tags,
			variants_count = EXCLUDED.variants_count,
			has_continue_selling = EXCLUDED.has_continue_selling,
			has_out_of_stock_variants = EXCLUDED.has_out_of_stock_variants,
			oos = EXCLUDED.oos,
			oos_at = EXCLUDED.oos_at,
			hidden_at = CASE WHEN EXCLUDED.oos THEN products.hidden_at END,
			scheduled_hidden_at = CASE
				WHEN NOT EXCLUDED.oos THEN NULL
				WHEN products.hidden_at IS NULL THEN COALESCE(EXCLUDED.scheduled_hidden_at, products.scheduled_hidden_at)
				ELSE products.scheduled_hidden_at
			END,
			updated_at = EXCLUDED.updated_at
	`,
		p.Shop, p.ID, p.Title, p.Handle, string(status), jsonStrings(p.Tags), p.VariantsCount,
		p.HasContinueSelling, p.HasOutOfStockVariants, p.OOS, utcPtr(p.OOSAt), scheduled,
		r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.ID, apperrors.MapDBError(err))
	}
	return nil
}

// SetHidden stamps or clears hidden_at and always clears the scheduled hide.
func (r *ProductRepo) SetHidden(ctx context.Context, params core.ScheduleHideParams) error {
	return r.exec(ctx, `
		UPDATE products SET hidden_at = $3, scheduled_hidden_at = NULL, updated_at = $4
		WHERE shop = $1 AND product_id = $2
	`, params)
}

func (r *ProductRepo) exec(ctx context.Context, query string, params core.ScheduleHideParams) error {
	res, err := r.DB.ExecContext(ctx, query,
		params.Shop, params.ProductID, utcPtr(params.At), r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", params.ProductID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return nil
}
