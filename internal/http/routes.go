package httpx

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	BulkFinish  BulkFinishEnqueuer
	Products    ProductUpdateProcessor
	Collections CollectionUpdateProcessor
	Jobs        JobReader
	Schedules   Scheduler
	History     BulkOperationLister
	// Deduper is optional; it drops repeated webhook deliveries.
	Deduper DeliveryDeduper
	// Readiness backs GET /readyz, keyed by dependency name.
	Readiness map[string]ReadinessCheck

	WebhookSecret string
	AdminToken    string
	MaxBodyBytes  int64
	Tracer        trace.Tracer
	Logger        *slog.Logger // Logger for request and handler errors (optional)
}

// NewRouter creates and configures the HTTP router with its middleware chain.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	webhooks := &WebhookHandlers{
		BulkFinish:  services.BulkFinish,
		Products:    services.Products,
		Collections: services.Collections,
		Deduper:     services.Deduper,
		Logger:      logger.With("component", "webhooks"),
	}
	registerWebhookRoutes(mux, webhooks, VerifyWebhook(services.WebhookSecret, logger))

	admin := RequireAdminToken(services.AdminToken)
	registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs, Logger: logger}, admin)
	registerAdminRoutes(mux, adminHandlers{
		bulkOps:   &BulkOperationHandlers{Repo: services.History, Logger: logger},
		schedules: &ScheduleHandlers{Svc: services.Schedules, Logger: logger},
	}, admin)

	mux.HandleFunc("GET /healthz", livenessHandler)
	mux.HandleFunc("HEAD /healthz", livenessHandler)
	mux.Handle("GET /readyz", readinessHandler(services.Readiness))

	// Order: Recover -> Logging -> Tracing -> LimitBody -> mux
	var h http.Handler = mux
	h = LimitBody(services.MaxBodyBytes)(h)
	h = Tracing(services.Tracer)(h)
	h = Logging(logger)(h)
	h = Recover(logger)(h)

	return h
}

func registerWebhookRoutes(mux *http.ServeMux, h *WebhookHandlers, verify func(http.Handler) http.Handler) {
	if h.BulkFinish != nil {
		mux.Handle("POST /webhooks/bulk_operations/finish", verify(http.HandlerFunc(h.BulkOperationFinish)))
	}
	if h.Products != nil {
		mux.Handle("POST /webhooks/products/update", verify(http.HandlerFunc(h.ProductUpdate)))
	}
	if h.Collections != nil {
		mux.Handle("POST /webhooks/collections/update", verify(http.HandlerFunc(h.CollectionUpdate)))
	}
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers, guard func(http.Handler) http.Handler) {
	if h.Svc == nil {
		return
	}
	mux.Handle("GET /api/jobs", guard(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/jobs/stats/{queue}", guard(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /api/jobs/{id}", guard(http.HandlerFunc(h.Get)))
}

type adminHandlers struct {
	bulkOps   *BulkOperationHandlers
	schedules *ScheduleHandlers
}

func registerAdminRoutes(mux *http.ServeMux, h adminHandlers, guard func(http.Handler) http.Handler) {
	if h.bulkOps.Repo != nil {
		mux.Handle("GET /api/bulk-operations", guard(http.HandlerFunc(h.bulkOps.List)))
	}
	if h.schedules.Svc != nil {
		mux.Handle("PUT /api/schedules/{shop}", guard(http.HandlerFunc(h.schedules.Put)))
		mux.Handle("DELETE /api/schedules/{shop}", guard(http.HandlerFunc(h.schedules.Delete)))
	}
}
