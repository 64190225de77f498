package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/data"
	"github.com/acme/shelfsort/internal/domain"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/domain/stock"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

// DefaultShopCron re-scans every active collection of a shop hourly.
const DefaultShopCron = "0 * * * *"

// AutoSortingSchedule builds the recurring auto-sorting schedule for a shop, keyed by shop.
func AutoSortingSchedule(shop, cronPattern string) (ScheduleRequest, error) {
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return ScheduleRequest{}, apperrors.ValidationField("shop", "shop is required")
	}
	if strings.TrimSpace(cronPattern) == "" {
		cronPattern = DefaultShopCron
	}
	payload, err := json.Marshal(model.AutoSortingPayload{Shop: shop})
	if err != nil {
		return ScheduleRequest{}, fmt.Errorf("encode auto-sorting payload: %w", err)
	}
	return ScheduleRequest{
		Queue:       model.QueueAutoSorting,
		Key:         shop,
		CronPattern: cronPattern,
		Template: domain.JobTemplate{
			Name:     model.JobNameAutoSorting,
			Payload:  payload,
			GroupKey: shop,
		},
	}, nil
}

// ProductWebhookServiceOptions groups dependencies for ProductWebhookService.
type ProductWebhookServiceOptions struct {
	Shop        core.ShopAPI              // Required
	Products    core.ProductRepository    // Required
	Collections core.CollectionRepository // Required
	Merchants   core.MerchantSettings     // Required
	Queue       Enqueuer                  // Required
	// PushDownDebounce is the dedup window and delay of push-downs triggered by a stock change.
	PushDownDebounce time.Duration
	Logger           *slog.Logger
	Clock            func() time.Time
}

// ProductWebhookService reacts to product updates: it keeps the stock snapshot current
// and, on a stock transition, schedules push-downs, tagging and hiding.
type ProductWebhookService struct {
	shop        core.ShopAPI
	products    core.ProductRepository
	collections core.CollectionRepository
	merchants   core.MerchantSettings
	queue       Enqueuer
	debounce    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewProductWebhookService constructs a ProductWebhookService.
func NewProductWebhookService(opts ProductWebhookServiceOptions) (*ProductWebhookService, error) {
	if opts.Shop == nil || opts.Products == nil || opts.Collections == nil || opts.Merchants == nil || opts.Queue == nil {
		return nil, errors.New("shop API, products, collections, merchants and queue are required")
	}
	if opts.PushDownDebounce <= 0 {
		opts.PushDownDebounce = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &ProductWebhookService{
		shop:        opts.Shop,
		products:    opts.Products,
		collections: opts.Collections,
		merchants:   opts.Merchants,
		queue:       opts.Queue,
		debounce:    opts.PushDownDebounce,
		logger:      opts.Logger.With("component", "product_webhook"),
		now:         opts.Clock,
	}, nil
}

// ProductUpdateOutcome summarizes what a product update caused.
type ProductUpdateOutcome struct {
	Ignored       bool `json:"ignored"`
	Changed       bool `json:"changed"`
	OOS           bool `json:"oos"`
	Transitioned  bool `json:"transitioned"`
	PushDowns     int  `json:"push_downs"`
	HideScheduled bool `json:"hide_scheduled"`
}

// HandleProductUpdate reclassifies the product. Only a change of the out-of-stock state
// triggers follow-up work; other attribute changes just refresh the snapshot.
func (s *ProductWebhookService) HandleProductUpdate(
	ctx context.Context,
	shop string,
	w model.ProductWebhook,
) (ProductUpdateOutcome, error) {
	if shop == "" || w.ID == 0 {
		return ProductUpdateOutcome{}, apperrors.Validation("shop and product id are required")
	}
	productID := strconv.FormatInt(w.ID, 10)

	merchant, err := s.merchants.Get(ctx, shop)
	if errors.Is(err, data.ErrMerchantNotFound) || (err == nil && !merchant.Active) {
		return ProductUpdateOutcome{Ignored: true}, nil
	}
	if err != nil {
		return ProductUpdateOutcome{}, fmt.Errorf("load merchant settings: %w", err)
	}

	item := itemFromWebhook(w)
	if len(merchant.SelectedLocations) > 0 {
		variants, err := s.shop.ProductVariants(ctx, core.ProductVariantsParams{
			Shop:      shop,
			ProductID: productID,
			Locations: merchant.SelectedLocations,
		})
		if err != nil {
			return ProductUpdateOutcome{}, fmt.Errorf("fetch variant inventory: %w", err)
		}
		item.Variants = variants
	}
	oos, err := stock.OutOfStock(&item, merchant)
	if err != nil {
		return ProductUpdateOutcome{}, err
	}

	prev, err := s.products.Get(ctx, shop, productID)
	if err != nil && !errors.Is(err, data.ErrProductNotFound) {
		return ProductUpdateOutcome{}, fmt.Errorf("load product snapshot: %w", err)
	}
	if errors.Is(err, data.ErrProductNotFound) {
		prev = nil
	}

	next := s.snapshot(shop, w, item, oos, prev)
	out := ProductUpdateOutcome{OOS: oos}
	if !model.ProductChanged(prev, next) {
		return out, nil
	}

	// The snapshot is saved last: until it is, a redelivery still sees the transition and
	// repeats the follow-up work, which is idempotent.
	wasOOS := prev != nil && prev.OOS
	if wasOOS != oos {
		out.Transitioned = true
		s.logger.InfoContext(ctx, "product stock state changed", "shop", shop, "product_id", productID, "oos", oos)
		if oos {
			err = s.onOutOfStock(ctx, merchant, &item, next, &out)
		} else {
			err = s.onBackInStock(ctx, merchant, prev, productID, &out)
		}
		if err != nil {
			return out, err
		}
	}

	if err := s.products.Upsert(ctx, next); err != nil {
		return out, fmt.Errorf("save product snapshot: %w", err)
	}
	out.Changed = true
	return out, nil
}

func itemFromWebhook(w model.ProductWebhook) model.Item {
	item := model.Item{
		ID:       strconv.FormatInt(w.ID, 10),
		Title:    w.Title,
		Tags:     model.SplitTags(w.Tags),
		Variants: make([]model.Variant, 0, len(w.Variants)),
	}
	for _, v := range w.Variants {
		tracked := v.InventoryManagement != ""
		if tracked {
			item.TracksInventory = true
		}
		item.TotalInventory += v.InventoryQuantity
		item.Variants = append(item.Variants, model.Variant{
			ID:                model.AdminGID("ProductVariant", strconv.FormatInt(v.ID, 10)),
			InventoryQuantity: v.InventoryQuantity,
			InventoryPolicy:   model.ParseInventoryPolicy(v.InventoryPolicy),
			InventoryItem:     model.InventoryItem{Tracked: tracked},
		})
	}
	return item
}

func (s *ProductWebhookService) snapshot(
	shop string,
	w model.ProductWebhook,
	item model.Item,
	oos bool,
	prev *model.Product,
) *model.Product {
	next := &model.Product{
		ID:            item.ID,
		Shop:          shop,
		Title:         w.Title,
		Handle:        w.Handle,
		Status:        model.ProductStatus(strings.ToUpper(w.Status)),
		Tags:          item.Tags,
		VariantsCount: len(w.Variants),
		OOS:           oos,
		UpdatedAt:     s.now(),
	}
	if len(w.VariantGIDs) > 0 {
		next.VariantsCount = len(w.VariantGIDs)
	}
	for _, v := range item.Variants {
		if v.InventoryPolicy == model.InventoryPolicyContinue {
			next.HasContinueSelling = true
		}
		if v.InventoryQuantity <= 0 {
			next.HasOutOfStockVariants = true
		}
	}
	if w.UpdatedAt != nil {
		next.UpdatedAt = *w.UpdatedAt
	}
	if prev != nil {
		next.OOSAt = prev.OOSAt
		next.HiddenAt = prev.HiddenAt
	}
	switch {
	case oos && (prev == nil || !prev.OOS):
		at := next.UpdatedAt
		next.OOSAt = &at
	case !oos:
		next.OOSAt = nil
		next.HiddenAt = nil
	}
	return next
}

// onOutOfStock runs the out-of-stock follow-up and stamps the scheduled hide on next.
func (s *ProductWebhookService) onOutOfStock(
	ctx context.Context,
	merchant *model.MerchantConfig,
	item *model.Item,
	next *model.Product,
	out *ProductUpdateOutcome,
) error {
	shop, productID := merchant.Shop, next.ID
	if !merchant.ExcludePushDown || !item.HasTag(merchant.ExcludePushDownTags) {
		n, err := s.enqueuePushDowns(ctx, shop, productID)
		out.PushDowns = n
		if err != nil {
			return err
		}
	}

	if merchant.TagOOSProduct && merchant.OOSProductTag != "" {
		if err := s.shop.AddTags(ctx, core.TagsParams{
			Shop: shop, ProductID: productID, Tags: []string{merchant.OOSProductTag},
		}); err != nil {
			return fmt.Errorf("tag out-of-stock product: %w", err)
		}
	}

	if !stock.ShouldHide(item, merchant) {
		return nil
	}
	if _, err := s.queue.Enqueue(ctx, EnqueueRequest{
		Queue:   model.QueueHideProduct,
		Name:    model.JobNameHideProduct,
		Payload: model.HideProductPayload{Shop: shop, ProductID: productID},
		Options: EnqueueOptions{
			DedupKey: "Hide:" + productID,
			Delay:    merchant.HideDelay(),
			GroupKey: shop,
		},
	}); err != nil {
		return fmt.Errorf("schedule hide: %w", err)
	}
	at := s.now().Add(merchant.HideDelay())
	next.ScheduledHiddenAt = &at
	out.HideScheduled = true
	return nil
}

func (s *ProductWebhookService) onBackInStock(
	ctx context.Context,
	merchant *model.MerchantConfig,
	prev *model.Product,
	productID string,
	out *ProductUpdateOutcome,
) error {
	shop := merchant.Shop
	var remove []string
	if merchant.TagOOSProduct && merchant.OOSProductTag != "" {
		remove = append(remove, merchant.OOSProductTag)
	}
	if merchant.TagHiddenProduct && merchant.HiddenProductTag != "" {
		remove = append(remove, merchant.HiddenProductTag)
	}
	if len(remove) > 0 {
		if err := s.shop.RemoveTags(ctx, core.TagsParams{Shop: shop, ProductID: productID, Tags: remove}); err != nil {
			return fmt.Errorf("untag product: %w", err)
		}
	}

	if merchant.RepublishHidden && prev != nil && prev.HiddenAt != nil {
		if err := s.republish(ctx, merchant, productID); err != nil {
			return err
		}
	}
	n, err := s.enqueuePushDowns(ctx, shop, productID)
	out.PushDowns = n
	return err
}

func (s *ProductWebhookService) republish(ctx context.Context, merchant *model.MerchantConfig, productID string) error {
	var err error
	switch merchant.HidingChannel {
	case model.HidingChannelOnlineStore:
		if merchant.PublicationID == "" {
			return nil
		}
		err = s.shop.SetPublished(ctx, core.PublicationParams{
			Shop:          merchant.Shop,
			ProductID:     productID,
			PublicationID: merchant.PublicationID,
			Published:     true,
		})
	default:
		err = s.shop.SetProductStatus(ctx, core.ProductStatusParams{
			Shop:      merchant.Shop,
			ProductID: productID,
			Status:    model.ProductStatusActive,
		})
	}
	if err != nil {
		return fmt.Errorf("republish product: %w", err)
	}
	return nil
}

// enqueuePushDowns schedules a debounced push-down for every active collection that
// contains the product and returns how many were newly enqueued.
func (s *ProductWebhookService) enqueuePushDowns(ctx context.Context, shop, productID string) (int, error) {
	ids, err := s.shop.ProductCollections(ctx, shop, productID)
	if err != nil {
		return 0, fmt.Errorf("list product collections: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	active, err := s.collections.ListActiveByIDs(ctx, shop, ids)
	if err != nil {
		return 0, fmt.Errorf("filter active collections: %w", err)
	}
	enqueued := 0
	for _, c := range active {
		handle, err := s.queue.Enqueue(ctx, PushDownJob(shop, c.ID, WebhookDedupPrefix, s.debounce))
		if err != nil {
			return enqueued, fmt.Errorf("enqueue push-down for collection %s: %w", c.ID, err)
		}
		if !handle.Duplicated {
			enqueued++
		}
	}
	return enqueued, nil
}

// CollectionWebhookService keeps stored collection sort orders in line with the upstream.
type CollectionWebhookService struct {
	collections core.CollectionRepository
	logger      *slog.Logger
}

// NewCollectionWebhookService constructs a CollectionWebhookService.
func NewCollectionWebhookService(collections core.CollectionRepository, logger *slog.Logger) (*CollectionWebhookService, error) {
	if collections == nil {
		return nil, errors.New("collection repository is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectionWebhookService{collections: collections, logger: logger.With("component", "collection_webhook")}, nil
}

// HandleCollectionUpdate records the collection's new sort order. A tracked collection
// stays MANUAL upstream while push-down is on, so MANUAL is ignored for active
// collections; switching an active collection to any other sort disables push-down.
func (s *CollectionWebhookService) HandleCollectionUpdate(
	ctx context.Context,
	shop string,
	w model.CollectionWebhook,
) (*model.Collection, error) {
	if shop == "" || w.ID == 0 {
		return nil, apperrors.Validation("shop and collection id are required")
	}
	collectionID := strconv.FormatInt(w.ID, 10)

	current, err := s.collections.Get(ctx, shop, collectionID)
	if errors.Is(err, data.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}
	sorting, err := model.ParseCollectionSorting(w.SortOrder)
	if err != nil {
		return nil, apperrors.ValidationField("sort_order", err.Error())
	}

	var req model.UpdateCollectionRequest
	if w.Title != "" && w.Title != current.Title {
		req.Title = &w.Title
	}
	switch {
	case current.IsActive && sorting != model.CollectionSortingManual:
		inactive := false
		req.IsActive = &inactive
		req.CurrentSorting = &sorting
	case !current.IsActive && sorting != current.CurrentSorting:
		req.CurrentSorting = &sorting
	}
	if !req.HasChanges() {
		return current, nil
	}

	updated, err := s.collections.Update(ctx, core.UpdateCollectionParams{
		Shop:         shop,
		CollectionID: collectionID,
		Req:          req,
	})
	if err != nil {
		return nil, fmt.Errorf("update collection: %w", err)
	}
	if req.IsActive != nil {
		s.logger.InfoContext(ctx, "collection sort changed upstream, push-down disabled",
			"shop", shop, "collection_id", collectionID, "sorting", sorting)
	}
	return updated, nil
}
