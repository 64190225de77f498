package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/testutil"
)

func TestMerchantRepo(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewMerchantRepoWithTimeProvider(db, NewFixedTimeProvider(testutil.TestTime()))

		_, err := repo.Get(ctx, "demo.myshopify.com")
		require.ErrorIs(t, err, ErrMerchantNotFound)

		cfg := testutil.MerchantConfig("demo.myshopify.com")
		cfg.SelectedLocations = []string{"gid://shopify/Location/1"}
		saved, err := repo.Upsert(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, cfg.ExcludePushDownTags, saved.ExcludePushDownTags)
		assert.Equal(t, cfg.SelectedLocations, saved.SelectedLocations)
		assert.Equal(t, 3, saved.HideAfterDays)
		assert.Equal(t, testutil.TestTime(), saved.UpdatedAt.UTC())

		cfg.Active = false
		cfg.HidingChannel = ""
		cfg.ExcludeHideTags = nil
		saved, err = repo.Upsert(ctx, cfg)
		require.NoError(t, err)
		assert.False(t, saved.Active)
		assert.Equal(t, model.HidingChannelOnlineStore, saved.HidingChannel)
		assert.Empty(t, saved.ExcludeHideTags)

		_, err = repo.Upsert(ctx, testutil.MerchantConfig("other.myshopify.com"))
		require.NoError(t, err)

		active, err := repo.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "other.myshopify.com", active[0].Shop)

		got, err := repo.Get(ctx, "demo.myshopify.com")
		require.NoError(t, err)
		assert.Equal(t, "out-of-stock", got.OOSProductTag)
	})
}

func TestMerchantRepo_Upsert_Validation(t *testing.T) {
	repo := NewMerchantRepo(nil)

	_, err := repo.Upsert(context.Background(), nil)
	require.Error(t, err)

	cfg := testutil.MerchantConfig("demo.myshopify.com")
	cfg.HideAfterDays = -1
	_, err = repo.Upsert(context.Background(), cfg)
	require.Error(t, err)
}

func TestJSONStrings(t *testing.T) {
	assert.JSONEq(t, `[]`, string(jsonStrings(nil)))
	assert.JSONEq(t, `["a","b"]`, string(jsonStrings([]string{"a", "b"})))
}

func TestCollectionRepo(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewCollectionRepoWithTimeProvider(db, clock)
		shop := "demo.myshopify.com"

		_, err := repo.Get(ctx, shop, "1")
		require.ErrorIs(t, err, ErrCollectionNotFound)

		for _, c := range []*model.Collection{
			{Shop: shop, ID: "1", Title: "Shoes", IsActive: true},
			{Shop: shop, ID: "2", Title: "Hats", IsActive: true, CurrentSorting: model.CollectionSortingManual},
			{Shop: shop, ID: "3", Title: "Archive", IsActive: false},
			{Shop: "other.myshopify.com", ID: "1", Title: "Elsewhere", IsActive: true},
		} {
			_, err := repo.Upsert(ctx, c)
			require.NoError(t, err)
		}

		got, err := repo.Get(ctx, shop, "1")
		require.NoError(t, err)
		assert.Equal(t, model.CollectionSortingBestSelling, got.CurrentSorting)

		active, err := repo.ListActive(ctx, shop)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "1", active[0].ID)
		assert.Equal(t, "2", active[1].ID)

		byIDs, err := repo.ListActiveByIDs(ctx, shop, []string{"2", "3", "9"})
		require.NoError(t, err)
		require.Len(t, byIDs, 1)
		assert.Equal(t, "2", byIDs[0].ID)

		empty, err := repo.ListActiveByIDs(ctx, shop, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)

		clock.AddTime(time.Minute)
		sorted := clock.Now()
		oos := 4
		updated, err := repo.Update(ctx, core.UpdateCollectionParams{
			Shop:         shop,
			CollectionID: "1",
			Req:          model.UpdateCollectionRequest{OOSCount: &oos, LastSortedAt: &sorted},
		})
		require.NoError(t, err)
		assert.Equal(t, 4, updated.OOSCount)
		require.NotNil(t, updated.LastSortedAt)
		assert.Equal(t, sorted, updated.LastSortedAt.UTC())
		assert.Equal(t, "Shoes", updated.Title)

		unchanged, err := repo.Update(ctx, core.UpdateCollectionParams{Shop: shop, CollectionID: "1"})
		require.NoError(t, err)
		assert.Equal(t, 4, unchanged.OOSCount)

		// Upsert from a collection webhook keeps the counters.
		_, err = repo.Upsert(ctx, &model.Collection{Shop: shop, ID: "1", Title: "Footwear", IsActive: true})
		require.NoError(t, err)
		got, err = repo.Get(ctx, shop, "1")
		require.NoError(t, err)
		assert.Equal(t, "Footwear", got.Title)
		assert.Equal(t, 4, got.OOSCount)

		_, err = repo.Update(ctx, core.UpdateCollectionParams{
			Shop: shop, CollectionID: "404", Req: model.UpdateCollectionRequest{OOSCount: &oos},
		})
		require.ErrorIs(t, err, ErrCollectionNotFound)
	})
}

func TestBuildCollectionUpdateClause(t *testing.T) {
	title := "Shoes"
	active := false
	clause, args := buildCollectionUpdateClause(model.UpdateCollectionRequest{Title: &title, IsActive: &active})
	assert.Equal(t, "title = $1, is_active = $2", clause)
	assert.Equal(t, []any{"Shoes", false}, args)
}

func TestProductRepo(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewProductRepoWithTimeProvider(db, clock)
		shop := "demo.myshopify.com"

		_, err := repo.Get(ctx, shop, "7")
		require.ErrorIs(t, err, ErrProductNotFound)

		oosAt := clock.Now()
		require.NoError(t, repo.Upsert(ctx, &model.Product{
			Shop:          shop,
			ID:            "7",
			Title:         "Boot",
			Handle:        "boot",
			Tags:          []string{"pinned"},
			VariantsCount: 2,
			OOS:           true,
			OOSAt:         &oosAt,
		}))

		p, err := repo.Get(ctx, shop, "7")
		require.NoError(t, err)
		assert.Equal(t, model.ProductStatusActive, p.Status)
		assert.Equal(t, []string{"pinned"}, p.Tags)
		assert.True(t, p.OOS)
		require.NotNil(t, p.OOSAt)
		assert.Equal(t, oosAt, p.OOSAt.UTC())

		hideAt := clock.Now().Add(72 * time.Hour)
		require.NoError(t, repo.Upsert(ctx, &model.Product{
			Shop: shop, ID: "7", Title: "Boot", Handle: "boot", OOS: true, OOSAt: &oosAt, ScheduledHiddenAt: &hideAt,
		}))

		// A later out-of-stock snapshot keeps the scheduled hide.
		require.NoError(t, repo.Upsert(ctx, &model.Product{Shop: shop, ID: "7", Title: "Boot", Handle: "boot", OOS: true, OOSAt: &oosAt}))
		p, err = repo.Get(ctx, shop, "7")
		require.NoError(t, err)
		require.NotNil(t, p.ScheduledHiddenAt)
		assert.Equal(t, hideAt, p.ScheduledHiddenAt.UTC())
		assert.Empty(t, p.Tags)

		clock.AddTime(72 * time.Hour)
		hiddenAt := clock.Now()
		require.NoError(t, repo.SetHidden(ctx, core.ScheduleHideParams{Shop: shop, ProductID: "7", At: &hiddenAt}))
		p, err = repo.Get(ctx, shop, "7")
		require.NoError(t, err)
		require.NotNil(t, p.HiddenAt)
		assert.Equal(t, hiddenAt, p.HiddenAt.UTC())
		assert.Nil(t, p.ScheduledHiddenAt)

		// Out-of-stock snapshots never unhide; a back-in-stock one clears the hide state.
		require.NoError(t, repo.Upsert(ctx, &model.Product{
			Shop: shop, ID: "7", Title: "Boot", Handle: "boot", OOS: true, OOSAt: &oosAt, ScheduledHiddenAt: &hideAt,
		}))
		p, err = repo.Get(ctx, shop, "7")
		require.NoError(t, err)
		require.NotNil(t, p.HiddenAt)
		assert.Nil(t, p.ScheduledHiddenAt)

		require.NoError(t, repo.Upsert(ctx, &model.Product{Shop: shop, ID: "7", Title: "Boot", Handle: "boot"}))
		p, err = repo.Get(ctx, shop, "7")
		require.NoError(t, err)
		assert.False(t, p.OOS)
		assert.Nil(t, p.HiddenAt)
		assert.Nil(t, p.ScheduledHiddenAt)

		require.NoError(t, repo.SetHidden(ctx, core.ScheduleHideParams{Shop: shop, ProductID: "7"}))
		err = repo.SetHidden(ctx, core.ScheduleHideParams{Shop: shop, ProductID: "404"})
		require.ErrorIs(t, err, ErrProductNotFound)
	})
}
