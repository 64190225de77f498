package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
	"github.com/acme/shelfsort/internal/service"
)

// BulkOperationLister lists persisted bulk operations.
type BulkOperationLister interface {
	List(ctx context.Context, opts *model.BulkOperationListOptions) ([]*model.BulkOperation, error)
}

// Scheduler manages recurring enqueues.
type Scheduler interface {
	Schedule(ctx context.Context, req service.ScheduleRequest) (bool, error)
	Unschedule(ctx context.Context, queue model.QueueName, key string) (bool, error)
}

// BulkOperationHandlers serves bulk operation history.
type BulkOperationHandlers struct {
	Repo   BulkOperationLister
	Logger *slog.Logger
}

// List handles GET /api/bulk-operations with optional shop, collection_id and status filters.
func (h *BulkOperationHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	opts := &model.BulkOperationListOptions{Limit: limit, Offset: offset}
	if v := q.Get("shop"); v != "" {
		opts.Shop = &v
	}
	if v := q.Get("collection_id"); v != "" {
		opts.CollectionID = &v
	}
	if v := q.Get("status"); v != "" {
		status, err := model.ParseBulkOperationStatus(v)
		if err != nil {
			WriteServiceError(w, r, h.Logger, apperrors.ValidationField("status", err.Error()))
			return
		}
		opts.Status = &status
	}

	ops, err := h.Repo.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"bulk_operations": ops, "limit": limit, "offset": offset})
}

// ScheduleHandlers manages the per-shop auto-sorting schedule.
type ScheduleHandlers struct {
	Svc    Scheduler
	Logger *slog.Logger
}

type scheduleBody struct {
	Cron string `json:"cron"`
}

// Put handles PUT /api/schedules/{shop}. An empty body keeps the default hourly cron.
func (h *ScheduleHandlers) Put(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if r.ContentLength != 0 {
		if !DecodeJSON(w, r, &body) {
			return
		}
	}
	req, err := service.AutoSortingSchedule(strings.ToLower(r.PathValue("shop")), body.Cron)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}

	changed, err := h.Svc.Schedule(r.Context(), req)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"shop":    req.Key,
		"queue":   req.Queue,
		"cron":    req.CronPattern,
		"changed": changed,
	})
}

// Delete handles DELETE /api/schedules/{shop}.
func (h *ScheduleHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	shop := strings.ToLower(strings.TrimSpace(r.PathValue("shop")))
	if shop == "" {
		WriteServiceError(w, r, h.Logger, apperrors.ValidationField("shop", "shop is required"))
		return
	}
	removed, err := h.Svc.Unschedule(r.Context(), model.QueueAutoSorting, shop)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}
	if !removed {
		WriteServiceError(w, r, h.Logger, apperrors.NotFoundf("no schedule for shop %s", shop))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
