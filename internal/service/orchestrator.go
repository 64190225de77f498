package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/data"
	"github.com/acme/shelfsort/internal/domain/bulkexport"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/domain/reorder"
	"github.com/acme/shelfsort/internal/domain/stock"
	apperrors "github.com/acme/shelfsort/internal/errors"
	"github.com/acme/shelfsort/internal/observability/metrics"
	"github.com/acme/shelfsort/internal/observability/statsd"
)

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Shop        core.ShopAPI                 // Required
	BulkOps     core.BulkOperationRepository // Required
	Collections core.CollectionRepository    // Required
	Merchants   core.MerchantSettings        // Required
	Parse       bulkexport.ParseOptions
	Metrics     statsd.Sink
	Tracer      trace.Tracer
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Orchestrator drives collection exports through their upstream lifecycle and applies the
// resulting push-down moves once the finish webhook arrives.
type Orchestrator struct {
	shop        core.ShopAPI
	bulkOps     core.BulkOperationRepository
	collections core.CollectionRepository
	merchants   core.MerchantSettings
	parse       bulkexport.ParseOptions
	metrics     statsd.Sink
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	switch {
	case opts.Shop == nil:
		return nil, errors.New("shop API is required")
	case opts.BulkOps == nil:
		return nil, errors.New("bulk operation repository is required")
	case opts.Collections == nil:
		return nil, errors.New("collection repository is required")
	case opts.Merchants == nil:
		return nil, errors.New("merchant settings are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/acme/shelfsort/internal/service/orchestrator")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Orchestrator{
		shop:        opts.Shop,
		bulkOps:     opts.BulkOps,
		collections: opts.Collections,
		merchants:   opts.Merchants,
		parse:       opts.Parse,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		logger:      opts.Logger.With("component", "orchestrator"),
		now:         opts.Clock,
	}, nil
}

// StartRequest asks for a push-down export of one collection.
// Payload is the triggering job's payload, kept with the record for inspection.
type StartRequest struct {
	Shop         string
	CollectionID string
	Payload      json.RawMessage
}

// StartResult reports the export that was started. OperationID is empty when the
// collection is not tracked or the merchant is inactive, and nothing was started.
type StartResult struct {
	OperationID string
	Skipped     bool
}

// Start begins an export of the collection in its current sort and in the default sort.
// An export already running for the shop yields an UpstreamBusy error and no local record.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (res StartResult, err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.start", trace.WithAttributes(
		attribute.String("shop", req.Shop),
		attribute.String("collection.id", req.CollectionID),
	))
	defer func() { endSpan(span, err) }()

	if req.Shop == "" || req.CollectionID == "" {
		return StartResult{}, apperrors.Validation("shop and collection id are required")
	}

	current, err := o.shop.CurrentBulkOperation(ctx, req.Shop)
	if err != nil {
		return StartResult{}, fmt.Errorf("query current bulk operation: %w", err)
	}
	if current.InFlight() {
		return StartResult{}, apperrors.UpstreamBusy(
			fmt.Sprintf("bulk operation %s is still %s", current.ID, strings.ToLower(current.Status)), 0)
	}

	collection, err := o.collections.Get(ctx, req.Shop, req.CollectionID)
	if errors.Is(err, data.ErrCollectionNotFound) || (err == nil && !collection.IsActive) {
		o.logger.InfoContext(ctx, "collection not tracked, skipping push-down",
			"shop", req.Shop, "collection_id", req.CollectionID)
		return StartResult{Skipped: true}, nil
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("load collection: %w", err)
	}
	merchant, err := o.merchants.Get(ctx, req.Shop)
	if errors.Is(err, data.ErrMerchantNotFound) || (err == nil && !merchant.Active) {
		o.logger.InfoContext(ctx, "merchant inactive, skipping push-down", "shop", req.Shop)
		return StartResult{Skipped: true}, nil
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("load merchant settings: %w", err)
	}

	op, err := o.shop.StartCollectionExport(ctx, core.ExportRequest{
		Shop:         req.Shop,
		CollectionID: req.CollectionID,
		Sort:         collection.CurrentSorting.SortSpec(),
		Locations:    merchant.SelectedLocations,
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("start collection export: %w", err)
	}

	payload, err := json.Marshal(model.BulkOperationJobPayload{
		Shop:              req.Shop,
		CollectionID:      req.CollectionID,
		SelectedLocations: merchant.SelectedLocations,
		Trigger:           req.Payload,
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("encode bulk operation payload: %w", err)
	}
	now := o.now()
	if _, err := o.bulkOps.Create(ctx, &model.CreateBulkOperationRequest{
		ExternalID:   op.ID,
		Shop:         req.Shop,
		CollectionID: req.CollectionID,
		Action:       model.BulkOperationActionPushDown,
		JobPayload:   payload,
		CreatedAt:    now,
	}); err != nil {
		return StartResult{}, fmt.Errorf("record bulk operation %s: %w", op.ID, err)
	}

	if _, err := o.collections.Update(ctx, core.UpdateCollectionParams{
		Shop:         req.Shop,
		CollectionID: req.CollectionID,
		Req:          model.UpdateCollectionRequest{LastRunAt: &now},
	}); err != nil {
		o.logger.WarnContext(ctx, "stamp collection last run failed",
			"collection_id", req.CollectionID, "error", err)
	}

	span.SetAttributes(attribute.String("bulk_operation.id", op.ID))
	o.logger.InfoContext(ctx, "collection export started",
		"shop", req.Shop, "collection_id", req.CollectionID, "operation_id", op.ID)
	return StartResult{OperationID: op.ID}, nil
}

// FinishEvent is the upstream notice that a bulk operation ended.
type FinishEvent struct {
	Shop        string     `json:"shop"`
	ExternalID  string     `json:"externalID"`
	Status      string     `json:"status"`
	ErrorCode   *string    `json:"errorCode,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// FinishEventFromWebhook converts the bulk_operations/finish payload.
func FinishEventFromWebhook(shop string, w model.BulkOperationFinishWebhook) FinishEvent {
	ev := FinishEvent{
		Shop:        shop,
		ExternalID:  w.AdminGraphQLAPIID,
		Status:      w.Status,
		CompletedAt: w.CompletedAt,
	}
	if w.ErrorCode != nil && strings.TrimSpace(*w.ErrorCode) != "" {
		code := strings.ToUpper(strings.TrimSpace(*w.ErrorCode))
		ev.ErrorCode = &code
	}
	return ev
}

// WebhookOutcome summarizes what OnWebhook did.
type WebhookOutcome struct {
	Status       model.BulkOperationStatus
	Ignored      bool
	MovesPlanned int
	MovesApplied int
	OOSCount     int
}

// interruptedPushDown is recorded on operations found RUNNING when their finish is retried.
const interruptedPushDown = "push-down interrupted; moves may be partially applied"

// OnWebhook resumes the push-down of a finished export. Unknown operations and repeated
// deliveries are ignored. Errors before MarkRunning leave the record CREATED so the caller
// can retry. Once processing starts the record always ends in a terminal state: a failure
// persists FAILED with the error and the error is returned. A record already RUNNING when
// the finish arrives belongs to an attempt that never returned and is failed.
func (o *Orchestrator) OnWebhook(ctx context.Context, ev FinishEvent) (out WebhookOutcome, err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.webhook", trace.WithAttributes(
		attribute.String("bulk_operation.id", ev.ExternalID),
		attribute.String("bulk_operation.status", ev.Status),
	))
	defer func() { endSpan(span, err) }()

	record, err := o.bulkOps.GetByExternalID(ctx, ev.ExternalID)
	if errors.Is(err, data.ErrBulkOperationNotFound) {
		o.logger.DebugContext(ctx, "ignoring unknown bulk operation", "operation_id", ev.ExternalID)
		return WebhookOutcome{Ignored: true}, nil
	}
	if err != nil {
		return WebhookOutcome{}, fmt.Errorf("load bulk operation: %w", err)
	}
	if record.Status.Terminal() {
		return WebhookOutcome{Status: record.Status, Ignored: true}, nil
	}
	if record.Status == model.BulkOperationRunning {
		// A previous attempt died mid push-down; its moves may be partially applied.
		msg := interruptedPushDown
		o.logger.WarnContext(ctx, "bulk operation interrupted while running", "operation_id", record.ExternalID)
		return o.finish(ctx, &model.FinishBulkOperationRequest{
			ExternalID:  record.ExternalID,
			Status:      model.BulkOperationFailed,
			LastError:   &msg,
			CompletedAt: ev.CompletedAt,
		})
	}

	status, err := model.ParseBulkOperationStatus(ev.Status)
	if err != nil {
		return WebhookOutcome{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}
	if status != model.BulkOperationCompleted || ev.ErrorCode != nil {
		if status == model.BulkOperationCompleted || !status.Terminal() {
			status = model.BulkOperationFailed
		}
		return o.finish(ctx, &model.FinishBulkOperationRequest{
			ExternalID:  record.ExternalID,
			Status:      status,
			ErrorCode:   ev.ErrorCode,
			CompletedAt: ev.CompletedAt,
		})
	}

	upstream, err := o.shop.BulkOperation(ctx, record.Shop, record.ExternalID)
	if err != nil {
		return WebhookOutcome{}, fmt.Errorf("fetch bulk operation status: %w", err)
	}
	if upstream == nil || upstream.URL == nil || *upstream.URL == "" {
		req := &model.FinishBulkOperationRequest{
			ExternalID:  record.ExternalID,
			Status:      model.BulkOperationCompleted,
			CompletedAt: ev.CompletedAt,
		}
		if upstream != nil {
			req.ObjectCount = upstream.ObjectCount
		}
		return o.finish(ctx, req)
	}

	started, err := o.bulkOps.MarkRunning(ctx, record.ExternalID)
	if err != nil {
		return WebhookOutcome{}, fmt.Errorf("mark bulk operation running: %w", err)
	}
	if !started {
		return WebhookOutcome{Status: model.BulkOperationRunning, Ignored: true}, nil
	}

	begin := o.now()
	run, runErr := o.pushDown(ctx, record, *upstream.URL)
	run.elapsed = o.now().Sub(begin)
	final := context.WithoutCancel(ctx)
	req := &model.FinishBulkOperationRequest{
		ExternalID:   record.ExternalID,
		Status:       model.BulkOperationCompleted,
		ObjectCount:  upstream.ObjectCount,
		MovesPlanned: &run.planned,
		MovesApplied: &run.applied,
		CompletedAt:  ev.CompletedAt,
	}
	if runErr != nil {
		msg := runErr.Error()
		req.Status = model.BulkOperationFailed
		req.LastError = &msg
		if _, ferr := o.bulkOps.Finish(final, req); ferr != nil {
			o.logger.ErrorContext(ctx, "persist failed bulk operation", "operation_id", record.ExternalID, "error", ferr)
		}
		o.emit(record, model.BulkOperationFailed, run, runErr)
		return WebhookOutcome{
			Status:       model.BulkOperationFailed,
			MovesPlanned: run.planned,
			MovesApplied: run.applied,
			OOSCount:     run.oos,
		}, runErr
	}

	out, err = o.finish(final, req)
	out.MovesPlanned = run.planned
	out.MovesApplied = run.applied
	out.OOSCount = run.oos
	o.emit(record, model.BulkOperationCompleted, run, nil)
	return out, err
}

type pushDownRun struct {
	planned int
	applied int
	oos     int
	elapsed time.Duration
}

// pushDown streams the export, partitions its products and applies the minimal moves.
func (o *Orchestrator) pushDown(ctx context.Context, record *model.BulkOperation, url string) (pushDownRun, error) {
	var run pushDownRun

	var snapshot model.BulkOperationJobPayload
	if len(record.JobPayload) > 0 {
		if err := json.Unmarshal(record.JobPayload, &snapshot); err != nil {
			return run, apperrors.Formatf("decode bulk operation payload: %v", err)
		}
	}
	merchant, err := o.merchants.Get(ctx, record.Shop)
	if err != nil {
		return run, fmt.Errorf("load merchant settings: %w", err)
	}
	cfg := *merchant
	// Location aliases in the export were built from the snapshot.
	cfg.SelectedLocations = snapshot.SelectedLocations

	export, err := o.download(ctx, url)
	if err != nil {
		return run, err
	}

	keep, down, err := stock.Partition(export.Ordered, &cfg)
	if err != nil {
		return run, err
	}
	run.oos = len(down)
	target := append(model.ItemIDs(keep), model.ItemIDs(down)...)
	moves, err := reorder.Plan(export.Default, target)
	if err != nil {
		return run, err
	}
	run.planned = len(moves)

	if len(moves) > 0 {
		if err := o.shop.SetCollectionSortOrder(ctx, core.SortOrderParams{
			Shop:         record.Shop,
			CollectionID: record.CollectionID,
			Sorting:      model.CollectionSortingManual,
		}); err != nil {
			return run, fmt.Errorf("set manual sort order: %w", err)
		}
		applied, err := o.shop.ReorderCollection(ctx, core.ReorderParams{
			Shop:         record.Shop,
			CollectionID: record.CollectionID,
			Moves:        moves,
		})
		run.applied = applied
		if err != nil {
			return run, fmt.Errorf("reorder collection after %d of %d moves: %w", run.applied, run.planned, err)
		}
	}

	now := o.now()
	if _, err := o.collections.Update(ctx, core.UpdateCollectionParams{
		Shop:         record.Shop,
		CollectionID: record.CollectionID,
		Req:          model.UpdateCollectionRequest{OOSCount: &run.oos, LastSortedAt: &now},
	}); err != nil {
		o.logger.WarnContext(ctx, "record collection oos count failed",
			"collection_id", record.CollectionID, "error", err)
	}

	o.logger.InfoContext(ctx, "collection pushed down",
		"shop", record.Shop,
		"collection_id", record.CollectionID,
		"products", len(export.Ordered),
		"oos", run.oos,
		"moves", run.planned,
	)
	return run, nil
}

func (o *Orchestrator) download(ctx context.Context, url string) (*bulkexport.CollectionExport, error) {
	body, err := o.shop.DownloadExport(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download export: %w", err)
	}
	defer func() { _ = body.Close() }()

	parsed, err := bulkexport.Parse(ctx, body, o.parse)
	if err != nil {
		return nil, err
	}
	return bulkexport.DecodeCollection(parsed)
}

func (o *Orchestrator) finish(ctx context.Context, req *model.FinishBulkOperationRequest) (WebhookOutcome, error) {
	op, err := o.bulkOps.Finish(ctx, req)
	if errors.Is(err, data.ErrBulkOperationBadTransition) {
		return WebhookOutcome{Status: req.Status, Ignored: true}, nil
	}
	if err != nil {
		return WebhookOutcome{}, fmt.Errorf("finish bulk operation %s: %w", req.ExternalID, err)
	}
	o.logger.InfoContext(ctx, "bulk operation finished",
		"operation_id", op.ExternalID, "collection_id", op.CollectionID, "status", op.Status)
	return WebhookOutcome{Status: op.Status}, nil
}

func (o *Orchestrator) emit(record *model.BulkOperation, status model.BulkOperationStatus, run pushDownRun, err error) {
	metrics.EmitPushDown(o.metrics, metrics.PushDownMetric{
		Shop:       record.Shop,
		Status:     string(status),
		OutOfStock: run.oos,
		Planned:    run.planned,
		Applied:    run.applied,
		Duration:   run.elapsed,
		Err:        err,
	})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
