package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/data"
	domainjob "github.com/acme/shelfsort/internal/domain/job"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/domain/stock"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

// Dedup key prefixes for bulk-operation jobs. Fan-out from auto-sorting and debounced
// webhook triggers use separate windows, so they do not collapse into each other; the
// busy check in Orchestrator.Start keeps one export per shop running.
const (
	PushDownDedupPrefix   = "PushDown:"
	WebhookDedupPrefix    = "BO:"
	BulkFinishDedupPrefix = "BulkFinish:"
)

// Enqueuer adds jobs to a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (JobHandle, error)
}

var _ Enqueuer = (*QueueService)(nil)

// BulkOperationDriver starts collection exports and finishes them.
type BulkOperationDriver interface {
	Start(ctx context.Context, req StartRequest) (StartResult, error)
	OnWebhook(ctx context.Context, ev FinishEvent) (WebhookOutcome, error)
}

var _ BulkOperationDriver = (*Orchestrator)(nil)

// PushDownJob builds the enqueue request for a collection push-down. The dedup key
// and the delay share one window so bursts of triggers collapse into a single export.
func PushDownJob(shop, collectionID, dedupPrefix string, window time.Duration) EnqueueRequest {
	return EnqueueRequest{
		Queue:   model.QueueBulkOperation,
		Name:    model.JobNamePushDown,
		Payload: model.PushDownPayload{Shop: shop, CollectionID: collectionID},
		Options: EnqueueOptions{
			DedupKey: dedupPrefix + collectionID,
			TTL:      window,
			Delay:    window,
			GroupKey: shop,
		},
	}
}

// BulkFinishJob builds the enqueue request that finishes a bulk operation. The dedup key
// has no TTL: repeated deliveries collapse into the job while it is pending or running.
func BulkFinishJob(ev FinishEvent) EnqueueRequest {
	return EnqueueRequest{
		Queue:   model.QueueBulkOperation,
		Name:    model.JobNameBulkFinish,
		Payload: ev,
		Options: EnqueueOptions{DedupKey: BulkFinishDedupPrefix + ev.ExternalID},
	}
}

func decodePayload(job *model.Job, v any) error {
	if job == nil {
		return apperrors.Validation("job is required")
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return apperrors.Validationf("decode %s payload: %v", job.Name, err)
	}
	return nil
}

// PushDownHandler runs bulk-operation jobs: it starts collection exports and finishes them.
type PushDownHandler struct {
	driver BulkOperationDriver
	logger *slog.Logger
}

// NewPushDownHandler constructs a PushDownHandler.
func NewPushDownHandler(driver BulkOperationDriver, logger *slog.Logger) *PushDownHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushDownHandler{driver: driver, logger: logger.With("component", "push_down")}
}

// Handle dispatches on the job name.
func (h *PushDownHandler) Handle(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	if job != nil && job.Name == model.JobNameBulkFinish {
		return h.finish(ctx, job)
	}
	return h.start(ctx, job)
}

// start begins the export. An export already running upstream surfaces as UpstreamBusy
// so the runner re-delays this job instead of failing it.
func (h *PushDownHandler) start(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var p model.PushDownPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}

	res, err := h.driver.Start(ctx, StartRequest{
		Shop:         p.Shop,
		CollectionID: p.CollectionID,
		Payload:      job.Payload,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(model.PushDownResult{
		Shop:         p.Shop,
		CollectionID: p.CollectionID,
		OperationID:  res.OperationID,
	})
}

// BulkFinishResult is returned by a bulk-operation finish job.
type BulkFinishResult struct {
	OperationID  string                    `json:"operationID"`
	Status       model.BulkOperationStatus `json:"status,omitempty"`
	Ignored      bool                      `json:"ignored"`
	MovesPlanned int                       `json:"movesPlanned"`
	MovesApplied int                       `json:"movesApplied"`
}

// finish resumes the push-down of a finished export. Errors before the record reaches a
// terminal state are returned as is so the runner retries them. A push-down that failed and
// was persisted FAILED is not retried: the collection may be partially reordered and the
// next scheduled push-down plans from the new order.
func (h *PushDownHandler) finish(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var ev FinishEvent
	if err := decodePayload(job, &ev); err != nil {
		return nil, err
	}
	if ev.ExternalID == "" {
		return nil, apperrors.ValidationField("externalID", "bulk operation id is required")
	}

	out, err := h.driver.OnWebhook(ctx, ev)
	if err != nil {
		if out.Status == model.BulkOperationFailed {
			return nil, apperrors.Aborted(err, "push-down failed")
		}
		return nil, err
	}
	h.logger.InfoContext(ctx, "bulk operation finish handled",
		"shop", ev.Shop,
		"operation_id", ev.ExternalID,
		"status", out.Status,
		"ignored", out.Ignored,
		"moves_planned", out.MovesPlanned,
		"moves_applied", out.MovesApplied,
	)
	return json.Marshal(BulkFinishResult{
		OperationID:  ev.ExternalID,
		Status:       out.Status,
		Ignored:      out.Ignored,
		MovesPlanned: out.MovesPlanned,
		MovesApplied: out.MovesApplied,
	})
}

// AutoSortingResult is returned by an auto-sorting job.
type AutoSortingResult struct {
	Shop       string `json:"shop"`
	Enqueued   int    `json:"enqueued"`
	Duplicated int    `json:"duplicated"`
}

// AutoSortingHandlerOptions groups dependencies for AutoSortingHandler.
type AutoSortingHandlerOptions struct {
	Collections core.CollectionRepository // Required
	Merchants   core.MerchantSettings     // Required
	Queue       Enqueuer                  // Required
	// Stagger is both the dedup window and the delay of each fanned-out push-down.
	Stagger time.Duration
	Logger  *slog.Logger
}

// AutoSortingHandler fans a shop-wide re-scan out into one push-down per active collection.
type AutoSortingHandler struct {
	collections core.CollectionRepository
	merchants   core.MerchantSettings
	queue       Enqueuer
	stagger     time.Duration
	logger      *slog.Logger
}

// NewAutoSortingHandler constructs an AutoSortingHandler.
func NewAutoSortingHandler(opts AutoSortingHandlerOptions) (*AutoSortingHandler, error) {
	if opts.Collections == nil || opts.Merchants == nil || opts.Queue == nil {
		return nil, errors.New("collections, merchants and queue are required")
	}
	if opts.Stagger <= 0 {
		opts.Stagger = 4 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AutoSortingHandler{
		collections: opts.Collections,
		merchants:   opts.Merchants,
		queue:       opts.Queue,
		stagger:     opts.Stagger,
		logger:      opts.Logger.With("component", "auto_sorting"),
	}, nil
}

// Handle enqueues the push-downs. Inactive or unknown merchants are skipped.
func (h *AutoSortingHandler) Handle(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var p model.AutoSortingPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if p.Shop == "" {
		return nil, apperrors.ValidationField("shop", "shop is required")
	}
	res := AutoSortingResult{Shop: p.Shop}

	merchant, err := h.merchants.Get(ctx, p.Shop)
	if errors.Is(err, data.ErrMerchantNotFound) || (err == nil && !merchant.Active) {
		h.logger.InfoContext(ctx, "merchant inactive, skipping auto-sorting", "shop", p.Shop)
		return json.Marshal(res)
	}
	if err != nil {
		return nil, fmt.Errorf("load merchant settings: %w", err)
	}

	collections, err := h.collections.ListActive(ctx, p.Shop)
	if err != nil {
		return nil, fmt.Errorf("list active collections: %w", err)
	}
	for _, c := range collections {
		handle, err := h.queue.Enqueue(ctx, PushDownJob(p.Shop, c.ID, PushDownDedupPrefix, h.stagger))
		if err != nil {
			return nil, fmt.Errorf("enqueue push-down for collection %s: %w", c.ID, err)
		}
		if handle.Duplicated {
			res.Duplicated++
			continue
		}
		res.Enqueued++
	}

	h.logger.InfoContext(ctx, "scheduled push-down jobs",
		"shop", p.Shop, "enqueued", res.Enqueued, "duplicated", res.Duplicated)
	return json.Marshal(res)
}

// HideProductResult is returned by a hide-product job.
type HideProductResult struct {
	Shop      string              `json:"shop"`
	ProductID string              `json:"productID"`
	Hidden    bool                `json:"hidden"`
	Channel   model.HidingChannel `json:"channel,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

// HideProductHandlerOptions groups dependencies for HideProductHandler.
type HideProductHandlerOptions struct {
	Shop      core.ShopAPI           // Required
	Products  core.ProductRepository // Required
	Merchants core.MerchantSettings  // Required
	Logger    *slog.Logger
	Clock     func() time.Time
}

// HideProductHandler hides a product that is still out of stock when its delay expires.
type HideProductHandler struct {
	shop      core.ShopAPI
	products  core.ProductRepository
	merchants core.MerchantSettings
	logger    *slog.Logger
	now       func() time.Time
}

// NewHideProductHandler constructs a HideProductHandler.
func NewHideProductHandler(opts HideProductHandlerOptions) (*HideProductHandler, error) {
	if opts.Shop == nil || opts.Products == nil || opts.Merchants == nil {
		return nil, errors.New("shop API, products and merchants are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &HideProductHandler{
		shop:      opts.Shop,
		products:  opts.Products,
		merchants: opts.Merchants,
		logger:    opts.Logger.With("component", "hide_product"),
		now:       opts.Clock,
	}, nil
}

// Handle hides the product on the merchant's hiding channel and stamps hidden_at.
// Products that came back in stock, are already hidden or carry an exclusion tag are skipped.
func (h *HideProductHandler) Handle(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var p model.HideProductPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if p.Shop == "" || p.ProductID == "" {
		return nil, apperrors.Validation("shop and productID are required")
	}
	res := HideProductResult{Shop: p.Shop, ProductID: p.ProductID}

	merchant, err := h.merchants.Get(ctx, p.Shop)
	if errors.Is(err, data.ErrMerchantNotFound) {
		return h.skip(ctx, res, "merchant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load merchant settings: %w", err)
	}
	if !merchant.Active || !merchant.EnableHiding {
		return h.skip(ctx, res, "hiding disabled")
	}

	product, err := h.products.Get(ctx, p.Shop, p.ProductID)
	if errors.Is(err, data.ErrProductNotFound) {
		return h.skip(ctx, res, "product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	switch {
	case !product.OOS:
		return h.skip(ctx, res, "back in stock")
	case product.HiddenAt != nil:
		return h.skip(ctx, res, "already hidden")
	case !stock.ShouldHide(&model.Item{ID: product.ID, Tags: product.Tags}, merchant):
		return h.skip(ctx, res, "excluded by tag")
	}

	switch merchant.HidingChannel {
	case model.HidingChannelOnlineStore:
		if merchant.PublicationID == "" {
			return nil, apperrors.ValidationField("publication_id", "online store publication is not configured")
		}
		err = h.shop.SetPublished(ctx, core.PublicationParams{
			Shop:          p.Shop,
			ProductID:     p.ProductID,
			PublicationID: merchant.PublicationID,
			Published:     false,
		})
	case model.HidingChannelAll:
		err = h.shop.SetProductStatus(ctx, core.ProductStatusParams{
			Shop:      p.Shop,
			ProductID: p.ProductID,
			Status:    model.ProductStatusDraft,
		})
	default:
		return nil, apperrors.Validationf("unknown hiding channel %q", merchant.HidingChannel)
	}
	if err != nil {
		return nil, fmt.Errorf("hide product %s: %w", p.ProductID, err)
	}

	if merchant.TagHiddenProduct && merchant.HiddenProductTag != "" {
		if err := h.shop.AddTags(ctx, core.TagsParams{
			Shop:      p.Shop,
			ProductID: p.ProductID,
			Tags:      []string{merchant.HiddenProductTag},
		}); err != nil {
			return nil, fmt.Errorf("tag hidden product %s: %w", p.ProductID, err)
		}
	}

	now := h.now()
	if err := h.products.SetHidden(ctx, core.ScheduleHideParams{Shop: p.Shop, ProductID: p.ProductID, At: &now}); err != nil {
		return nil, fmt.Errorf("record hidden product %s: %w", p.ProductID, err)
	}

	res.Hidden = true
	res.Channel = merchant.HidingChannel
	h.logger.InfoContext(ctx, "product hidden",
		"shop", p.Shop, "product_id", p.ProductID, "channel", merchant.HidingChannel)
	return json.Marshal(res)
}

func (h *HideProductHandler) skip(ctx context.Context, res HideProductResult, reason string) (json.RawMessage, error) {
	h.logger.DebugContext(ctx, "hide skipped", "shop", res.Shop, "product_id", res.ProductID, "reason", reason)
	res.Reason = reason
	return json.Marshal(res)
}

// ClearScheduledHideOnFailure returns an event handler that clears the scheduled hide of a
// product whose hide job failed for good, so a later stock transition can schedule again.
func ClearScheduledHideOnFailure(products core.ProductRepository, logger *slog.Logger) domainjob.EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hide_product")
	return func(ctx context.Context, ev domainjob.Event) {
		if ev.Kind != domainjob.EventFailed || ev.Queue != model.QueueHideProduct {
			return
		}
		var p model.HideProductPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.Shop == "" || p.ProductID == "" {
			logger.WarnContext(ctx, "failed hide job has no usable payload", "job_id", ev.JobID)
			return
		}
		if err := products.SetHidden(ctx, core.ScheduleHideParams{Shop: p.Shop, ProductID: p.ProductID}); err != nil {
			logger.ErrorContext(ctx, "clear scheduled hide failed",
				"job_id", ev.JobID, "product_id", p.ProductID, "error", err)
		}
	}
}
