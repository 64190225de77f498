// Package httpx provides the webhook endpoints and the admin API.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// JobReader is the read side of the job queue used by the admin API.
type JobReader interface {
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	Stats(ctx context.Context, queue model.QueueName) (*model.JobStats, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
}

// JobHandlers provides HTTP handlers for job inspection.
type JobHandlers struct {
	Svc    JobReader
	Logger *slog.Logger
}

// List handles GET /api/jobs with optional queue, status and dedup_key filters.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	opts := &model.JobListOptions{Limit: limit, Offset: offset, SortOrder: "desc"}

	if v := q.Get("queue"); v != "" {
		queue, err := parseQueue(v)
		if err != nil {
			WriteServiceError(w, r, h.Logger, err)
			return
		}
		opts.Queue = &queue
	}
	if v := q.Get("status"); v != "" {
		status := model.JobStatus(strings.ToLower(v))
		if !status.Valid() {
			WriteServiceError(w, r, h.Logger, apperrors.ValidationField("status", "unknown job status "+v))
			return
		}
		opts.Status = &status
	}
	if v := q.Get("dedup_key"); v != "" {
		opts.DedupKey = &v
	}
	if dir := strings.ToLower(q.Get("sort")); dir == "asc" {
		opts.SortOrder = dir
	}

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "limit": limit, "offset": offset})
}

// Stats handles GET /api/jobs/stats/{queue}.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	queue, err := parseQueue(r.PathValue("queue"))
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}

	stats, err := h.Svc.Stats(r.Context(), queue)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, err := uuid.Parse(jobID); err != nil {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id must be a UUID")},
		)
		return
	}

	job, err := h.Svc.GetByID(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func parseQueue(v string) (model.QueueName, error) {
	var queue model.QueueName
	if err := queue.UnmarshalText([]byte(v)); err != nil {
		return "", apperrors.ValidationField("queue", err.Error())
	}
	return queue, nil
}
