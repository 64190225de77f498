package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
	"github.com/acme/shelfsort/internal/service"
)

// webhookDedupTTL covers the upstream retry window for a single delivery.
const webhookDedupTTL = 48 * time.Hour

// BulkFinishEnqueuer queues the finish of a bulk operation. It is satisfied by
// service.QueueService.
type BulkFinishEnqueuer interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (service.JobHandle, error)
}

// ProductUpdateProcessor reacts to product updates.
type ProductUpdateProcessor interface {
	HandleProductUpdate(ctx context.Context, shop string, w model.ProductWebhook) (service.ProductUpdateOutcome, error)
}

// CollectionUpdateProcessor reacts to collection updates.
type CollectionUpdateProcessor interface {
	HandleCollectionUpdate(ctx context.Context, shop string, w model.CollectionWebhook) (*model.Collection, error)
}

// DeliveryDeduper remembers webhook delivery ids. It is satisfied by core.CacheRepository.
type DeliveryDeduper interface {
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// WebhookHandlers serves the upstream webhook topics.
type WebhookHandlers struct {
	BulkFinish  BulkFinishEnqueuer
	Products    ProductUpdateProcessor
	Collections CollectionUpdateProcessor
	// Deduper is optional; without it repeated deliveries are processed again.
	Deduper DeliveryDeduper
	Logger  *slog.Logger
}

// BulkOperationFinish queues a finish job and acknowledges once it is stored. Downloading
// and reordering a large collection outlasts the upstream delivery timeout, so the work runs
// on the bulk-operation queue with its retries and lease recovery.
func (h *WebhookHandlers) BulkOperationFinish(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	var payload model.BulkOperationFinishWebhook
	if !decodeWebhook(w, r, &payload) {
		return
	}
	if payload.AdminGraphQLAPIID == "" {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_payload", Err: errors.New("admin_graphql_api_id is required"),
		})
		return
	}
	dedupKey, fresh := h.claimDelivery(r)
	if !fresh {
		WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	ev := service.FinishEventFromWebhook(shop, payload)
	handle, err := h.BulkFinish.Enqueue(r.Context(), service.BulkFinishJob(ev))
	if err != nil {
		h.fail(w, r, dedupKey, err)
		return
	}
	h.logger().InfoContext(r.Context(), "bulk operation finish queued",
		"shop", shop,
		"operation_id", ev.ExternalID,
		"job_id", handle.ID,
		"duplicated", handle.Duplicated,
	)
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "queued",
		"jobID":      handle.ID,
		"duplicated": handle.Duplicated,
	})
}

// ProductUpdate reclassifies the product synchronously.
func (h *WebhookHandlers) ProductUpdate(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	var payload model.ProductWebhook
	if !decodeWebhook(w, r, &payload) {
		return
	}
	dedupKey, fresh := h.claimDelivery(r)
	if !fresh {
		WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	out, err := h.Products.HandleProductUpdate(r.Context(), shop, payload)
	if err != nil {
		h.fail(w, r, dedupKey, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

// CollectionUpdate refreshes the stored sort order of a tracked collection.
func (h *WebhookHandlers) CollectionUpdate(w http.ResponseWriter, r *http.Request) {
	shop, ok := h.shop(w, r)
	if !ok {
		return
	}
	var payload model.CollectionWebhook
	if !decodeWebhook(w, r, &payload) {
		return
	}
	dedupKey, fresh := h.claimDelivery(r)
	if !fresh {
		WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	c, err := h.Collections.HandleCollectionUpdate(r.Context(), shop, payload)
	if err != nil {
		h.fail(w, r, dedupKey, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "tracked": c != nil})
}

func (h *WebhookHandlers) shop(w http.ResponseWriter, r *http.Request) (string, bool) {
	shop := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderShopDomain)))
	if shop == "" {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "missing_shop", Err: errors.New(HeaderShopDomain + " header is required"),
		})
		return "", false
	}
	return shop, true
}

// decodeWebhook tolerates unknown fields: upstream payloads carry far more than we read.
func decodeWebhook(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}
	return true
}

// claimDelivery records the delivery id and reports whether it was seen for the first time.
// Cache failures let the delivery through.
func (h *WebhookHandlers) claimDelivery(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderWebhookID))
	if h.Deduper == nil || id == "" {
		return "", true
	}
	key := "webhook:" + id
	fresh, err := h.Deduper.SetIfNotExists(r.Context(), key, []byte(r.URL.Path), webhookDedupTTL)
	if err != nil {
		h.logger().WarnContext(r.Context(), "webhook dedup unavailable", "webhook_id", id, "error", err)
		return "", true
	}
	if !fresh {
		h.logger().InfoContext(r.Context(), "duplicate webhook delivery", "webhook_id", id, "path", r.URL.Path)
	}
	return key, fresh
}

// releaseDelivery forgets a delivery so the upstream retry is processed.
func (h *WebhookHandlers) releaseDelivery(ctx context.Context, key string) {
	if key == "" || h.Deduper == nil {
		return
	}
	if _, err := h.Deduper.Delete(ctx, key); err != nil {
		h.logger().WarnContext(ctx, "release webhook delivery failed", "key", key, "error", err)
	}
}

// fail answers a failed synchronous delivery. Validation problems are acknowledged since a
// retry would fail the same way; other failures release the delivery for a retry.
func (h *WebhookHandlers) fail(w http.ResponseWriter, r *http.Request, dedupKey string, err error) {
	if apperrors.IsPermanent(err) {
		h.logger().WarnContext(r.Context(), "webhook rejected", "path", r.URL.Path, "error", err)
		WriteJSON(w, http.StatusOK, map[string]any{"status": "rejected", "message": err.Error()})
		return
	}
	h.releaseDelivery(r.Context(), dedupKey)
	WriteServiceError(w, r, h.logger(), err)
}

func (h *WebhookHandlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
