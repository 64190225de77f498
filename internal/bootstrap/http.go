package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/acme/shelfsort/config"
	httpx "github.com/acme/shelfsort/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// NewRouter builds the webhook and admin router from the service container.
func NewRouter(cfg *HTTPServerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}
	svc := cfg.Services

	services := httpx.RouterServices{
		WebhookSecret: appCfg.HTTP.WebhookSecret,
		AdminToken:    appCfg.HTTP.AdminToken,
		MaxBodyBytes:  appCfg.HTTP.MaxBodyBytes,
		Logger:        logger,
	}
	// Nil pointers must stay nil interfaces so unset routes are not registered.
	if svc.Queue != nil {
		services.Jobs = svc.Queue
		services.Schedules = svc.Queue
	}
	// Finish jobs are only useful where the orchestrator is wired.
	if svc.Queue != nil && svc.Orchestrator != nil {
		services.BulkFinish = svc.Queue
	}
	if svc.ProductWebhooks != nil {
		services.Products = svc.ProductWebhooks
	}
	if svc.CollectionWebhooks != nil {
		services.Collections = svc.CollectionWebhooks
	}
	if svc.Repos != nil {
		services.Readiness = readinessChecks(svc.Repos)
		if svc.Repos.BulkOperationRepo != nil {
			services.History = svc.Repos.BulkOperationRepo
		}
		if svc.Repos.CacheRepo != nil {
			services.Deduper = svc.Repos.CacheRepo
		}
	}
	if services.WebhookSecret == "" {
		logger.Warn("webhook signature verification disabled")
	}
	if services.AdminToken == "" {
		logger.Info("admin API disabled; set ADMIN_API_TOKEN to enable it")
	}

	return httpx.NewRouter(services)
}

func readinessChecks(repos *serviceRepositories) map[string]httpx.ReadinessCheck {
	checks := map[string]httpx.ReadinessCheck{}
	if repos.DB != nil {
		checks["postgres"] = repos.DB.PingContext
	}
	if repos.CacheRepo != nil {
		checks["redis"] = repos.CacheRepo.Health
	}
	return checks
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpCfg := config.HTTPConfig{}
	if cfg.Config != nil {
		httpCfg = cfg.Config.HTTP
	}

	return startServer(logger, NewRouter(cfg), httpCfg)
}

func startServer(logger *slog.Logger, handler http.Handler, cfg config.HTTPConfig) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(cfg.Context, timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}
	return nil
}
