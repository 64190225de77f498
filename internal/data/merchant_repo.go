package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/acme/shelfsort/internal/data/pgxutil"
	"github.com/acme/shelfsort/internal/domain/model"
)

const merchantColumns = `shop, active, continue_selling_as_oos, exclude_push_down, exclude_push_down_tags,
	selected_locations, tag_oos_product, oos_product_tag, enable_hiding, hiding_channel, hide_after_days,
	exclude_hiding, exclude_hide_tags, tag_hidden_product, hidden_product_tag, republish_hidden,
	publication_id, updated_at`

// MerchantRepo provides database operations for per-shop settings.
type MerchantRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewMerchantRepo creates a new MerchantRepo with real time provider.
func NewMerchantRepo(db *sql.DB) *MerchantRepo {
	return &MerchantRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewMerchantRepoWithTimeProvider creates a new MerchantRepo with a custom time provider (useful for tests).
func NewMerchantRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *MerchantRepo {
	return &MerchantRepo{DB: db, timeProvider: tp}
}

// jsonStrings encodes a tag or location list for a jsonb column, never as null.
func jsonStrings(v []string) []byte {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v) //nolint:errchkjson // []string always marshals
	return b
}

// Get returns the settings for shop.
func (r *MerchantRepo) Get(ctx context.Context, shop string) (*model.MerchantConfig, error) {
	var out model.MerchantConfig
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE shop = $1`, shop)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.MerchantConfig])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMerchantNotFound
		}
		return nil, fmt.Errorf("failed to get merchant %s: %w", shop, err)
	}
	return &out, nil
}

// Upsert inserts or replaces the settings for cfg.Shop.
func (r *MerchantRepo) Upsert(ctx context.Context, cfg *model.MerchantConfig) (*model.MerchantConfig, error) {
	if cfg == nil {
		return nil, errors.New("merchant config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	channel := cfg.HidingChannel
	if channel == "" {
		channel = model.HidingChannelOnlineStore
	}

	var out model.MerchantConfig
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO merchants (`+merchantColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			ON CONFLICT (shop) DO UPDATE SET
				active = EXCLUDED.active,
				continue_selling_as_oos = EXCLUDED.continue_selling_as_oos,
				exclude_push_down = EXCLUDED.exclude_push_down,
				exclude_push_down_tags = EXCLUDED.exclude_push_down_tags,
				selected_locations = EXCLUDED.selected_locations,
				tag_oos_product = EXCLUDED.tag_oos_product,
				oos_product_tag = EXCLUDED.oos_product_tag,
				enable_hiding = EXCLUDED.enable_hiding,
				hiding_channel = EXCLUDED.hiding_channel,
				hide_after_days = EXCLUDED.hide_after_days,
				exclude_hiding = EXCLUDED.exclude_hiding,
				exclude_hide_tags = EXCLUDED.exclude_hide_tags,
				tag_hidden_product = EXCLUDED.tag_hidden_product,
				hidden_product_tag = EXCLUDED.hidden_product_tag,
				republish_hidden = EXCLUDED.republish_hidden,
				publication_id = EXCLUDED.publication_id,
				updated_at = EXCLUDED.updated_at
			RETURNING `+merchantColumns,
			cfg.Shop,
			cfg.Active,
			cfg.ContinueSellingAsOOS,
			cfg.ExcludePushDown,
			jsonStrings(cfg.ExcludePushDownTags),
			jsonStrings(cfg.SelectedLocations),
			cfg.TagOOSProduct,
			cfg.OOSProductTag,
			cfg.EnableHiding,
			string(channel),
			cfg.HideAfterDays,
			cfg.ExcludeHiding,
			jsonStrings(cfg.ExcludeHideTags),
			cfg.TagHiddenProduct,
			cfg.HiddenProductTag,
			cfg.RepublishHidden,
			cfg.PublicationID,
			r.timeProvider.Now().UTC(),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.MerchantConfig])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert merchant %s: %w", cfg.Shop, err)
	}
	return &out, nil
}

// ListActive returns every active merchant ordered by shop.
func (r *MerchantRepo) ListActive(ctx context.Context) ([]*model.MerchantConfig, error) {
	res, err := pgxutil.CollectRows(ctx, r.DB, pgx.RowToAddrOfStructByName[model.MerchantConfig],
		`SELECT `+merchantColumns+` FROM merchants WHERE active ORDER BY shop`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active merchants: %w", err)
	}
	return res, nil
}
