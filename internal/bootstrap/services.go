package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acme/shelfsort/config"
	"github.com/acme/shelfsort/internal/adapters/shopify"
	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/data"
	domainjob "github.com/acme/shelfsort/internal/domain/job"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/observability/notify/pagerduty"
	"github.com/acme/shelfsort/internal/observability/notify/slack"
	"github.com/acme/shelfsort/internal/observability/statsd"
	"github.com/acme/shelfsort/internal/service"
	"github.com/acme/shelfsort/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Queue              *service.QueueService
	Events             *domainjob.EventBus
	Orchestrator       *service.Orchestrator
	ProductWebhooks    *service.ProductWebhookService
	CollectionWebhooks *service.CollectionWebhookService
	Handlers           JobHandlers
	Scheduler          *service.SchedulerService
	Repos              *serviceRepositories
	Observability      ObservabilityContainer
}

// JobHandlers groups the per-queue job handlers run by the workers.
type JobHandlers struct {
	PushDown    *service.PushDownHandler
	AutoSorting *service.AutoSortingHandler
	HideProduct *service.HideProductHandler
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     statsd.Sink
	statsdClient    *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// Close releases the metrics socket.
func (o ObservabilityContainer) Close() error {
	if o.statsdClient == nil {
		return nil
	}
	return o.statsdClient.Close()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB                     *sql.DB
	Redis                  redis.UniversalClient
	JobRepo                *data.JobRepo
	BulkOperationRepo      *data.BulkOperationRepo
	CollectionRepo         *data.CollectionRepo
	ProductRepo            *data.ProductRepo
	MerchantRepo           *data.MerchantRepo
	ScheduledJobsRepo      *data.ScheduledJobsRepo
	ScheduledJobsAdminRepo *data.ScheduledJobsAdminRepo
	CacheRepo              *data.RedisCacheRepo
	RateLimiter            *data.RedisRateLimiter
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}

	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Address:    cfg.Metrics.StatsdAddress,
			Prefix:     cfg.Metrics.Prefix,
			GlobalTags: map[string]string{"service": cfg.Tracing.ServiceName},
			Logger:     obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.statsdClient = client
			out.MetricsSink = client
		}
	}

	return out
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, rdb redis.UniversalClient, cfg *config.AppConfig, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		DB:    db,
		Redis: rdb,
		JobRepo: data.NewJobRepo(db, data.RepoConfig{
			DefaultMaxAttempts: cfg.Queue.MaxAttempts,
			Logger:             logger,
		}),
		BulkOperationRepo:      data.NewBulkOperationRepo(db),
		CollectionRepo:         data.NewCollectionRepo(db),
		ProductRepo:            data.NewProductRepo(db),
		MerchantRepo:           data.NewMerchantRepo(db),
		ScheduledJobsRepo:      data.NewScheduledJobsRepo(db),
		ScheduledJobsAdminRepo: data.NewScheduledJobsAdminRepo(db),
	}
	if rdb != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(rdb, cfg.Redis.KeyPrefix)
		repos.RateLimiter = data.NewRedisRateLimiter(rdb, cfg.Redis.KeyPrefix)
	}
	return repos
}

// merchantSettings puts the Redis read-through cache in front of the merchant table
// when Redis is available.
//
//nolint:ireturn // callers only need the settings lookup.
func merchantSettings(repos *serviceRepositories, cfg config.CacheConfig) core.MerchantSettings {
	if repos.CacheRepo == nil || cfg.MerchantTTL <= 0 {
		return repos.MerchantRepo
	}
	return core.NewMerchantCacheService(core.MerchantCacheServiceOptions{
		Cache:     repos.CacheRepo,
		Merchants: repos.MerchantRepo,
		Config:    core.MerchantCacheConfig{TTL: cfg.MerchantTTL},
	})
}

func newShopAPI(cfg config.ShopifyConfig, logger *slog.Logger) (*shopify.API, error) {
	tokens := shopify.NewTokenProvider(shopify.TokenProviderConfig{
		StaticTokens: cfg.AccessTokens,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	client, err := shopify.NewClient(shopify.Config{
		APIVersion:      cfg.APIVersion,
		Timeout:         cfg.Timeout,
		BaseURL:         cfg.BaseURL,
		LowWatermark:    cfg.LowWatermark,
		MaxThrottleWait: cfg.MaxThrottleWait,
		Logger:          logger,
	}, tokens)
	if err != nil {
		return nil, fmt.Errorf("create shopify client: %w", err)
	}
	return shopify.NewAPI(client), nil
}

// newEventBus routes terminal failures to the failure notifier and clears the
// scheduled hide of products whose hide job failed.
func newEventBus(repos *serviceRepositories, notifier *failurenotifier.Service, logger *slog.Logger) *domainjob.EventBus {
	failed := []domainjob.EventHandler{service.ClearScheduledHideOnFailure(repos.ProductRepo, logger)}
	if notifier != nil && notifier.Enabled() {
		failed = append(failed, notifier.HandleEvent)
	}
	return domainjob.NewEventBus(domainjob.EventBusOptions{
		Handlers: map[domainjob.EventKind][]domainjob.EventHandler{
			domainjob.EventFailed: failed,
		},
		Logger: logger,
	})
}

func newQueueService(repos *serviceRepositories, events *domainjob.EventBus, logger *slog.Logger) (*service.QueueService, error) {
	return service.NewQueueService(service.QueueServiceOptions{
		Repo:         repos.JobRepo,
		Schedules:    repos.ScheduledJobsAdminRepo,
		Events:       events,
		DefaultLease: 30 * time.Second,
		Logger:       logger,
	})
}

// DomainServicesOptions groups inputs for buildDomainServices.
type DomainServicesOptions struct {
	Repos         *serviceRepositories
	Observability ObservabilityContainer
	Config        *config.AppConfig
	Logger        *slog.Logger
}

// buildDomainServices wires business services using repositories and observability adapters.
func buildDomainServices(opts *DomainServicesOptions) (ServiceContainer, error) {
	if opts == nil {
		return ServiceContainer{}, errors.New("domain service options are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	repos := opts.Repos

	shopAPI, err := newShopAPI(cfg.Shopify, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	merchants := merchantSettings(repos, cfg.Cache)

	events := newEventBus(repos, opts.Observability.FailureNotifier, logger)
	queue, err := newQueueService(repos, events, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create queue service: %w", err)
	}

	orchestrator, err := service.NewOrchestrator(service.OrchestratorOptions{
		Shop:        shopAPI,
		BulkOps:     repos.BulkOperationRepo,
		Collections: repos.CollectionRepo,
		Merchants:   merchants,
		Metrics:     opts.Observability.MetricsSink,
		Logger:      logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create orchestrator: %w", err)
	}

	productWebhooks, err := service.NewProductWebhookService(service.ProductWebhookServiceOptions{
		Shop:             shopAPI,
		Products:         repos.ProductRepo,
		Collections:      repos.CollectionRepo,
		Merchants:        merchants,
		Queue:            queue,
		PushDownDebounce: cfg.Queue.PushDownDebounce,
		Logger:           logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create product webhook service: %w", err)
	}

	collectionWebhooks, err := service.NewCollectionWebhookService(repos.CollectionRepo, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create collection webhook service: %w", err)
	}

	autoSorting, err := service.NewAutoSortingHandler(service.AutoSortingHandlerOptions{
		Collections: repos.CollectionRepo,
		Merchants:   merchants,
		Queue:       queue,
		Stagger:     cfg.Queue.AutoSortingStagger,
		Logger:      logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create auto-sorting handler: %w", err)
	}

	hideProduct, err := service.NewHideProductHandler(service.HideProductHandlerOptions{
		Shop:      shopAPI,
		Products:  repos.ProductRepo,
		Merchants: merchants,
		Logger:    logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create hide-product handler: %w", err)
	}

	scheduler, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Repo: repos.ScheduledJobsRepo,
		Jobs: repos.JobRepo,
		Config: &core.SchedulerConfig{
			BatchSize:     cfg.Scheduler.BatchSize,
			DefaultPolicy: cfg.Scheduler.OverrunPolicy,
			RetryDelay:    cfg.Scheduler.RetryDelay,
		},
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create scheduler service: %w", err)
	}

	return ServiceContainer{
		Queue:              queue,
		Events:             events,
		Orchestrator:       orchestrator,
		ProductWebhooks:    productWebhooks,
		CollectionWebhooks: collectionWebhooks,
		Handlers: JobHandlers{
			PushDown:    service.NewPushDownHandler(orchestrator, logger),
			AutoSorting: autoSorting,
			HideProduct: hideProduct,
		},
		Scheduler:     scheduler,
		Repos:         repos,
		Observability: opts.Observability,
	}, nil
}

// NewServices builds repositories, adapters and services from deps.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, cfg, logger)
	return buildDomainServices(&DomainServicesOptions{
		Repos:         repos,
		Observability: observability,
		Config:        cfg,
		Logger:        logger,
	})
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	muted := make([]model.QueueName, 0, len(cfg.MutedQueues))
	for _, q := range cfg.MutedQueues {
		muted = append(muted, model.QueueName(q))
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:    cfg.Slack.WebhookURL,
			Channel:       cfg.Slack.Channel,
			Username:      cfg.Slack.Username,
			Timeout:       cfg.Timeout,
			RetryLimit:    cfg.RetryLimit,
			ShopURLPrefix: cfg.Slack.ShopURLPrefix,
			Logger:        baseLogger,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
			Logger:     baseLogger,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:     baseLogger.With("component", "failure_notifier"),
		Sinks:      sinks,
		SkipQueues: muted,
	})
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "queue workers",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			var limiter core.RateLimiter
			if svc.Repos.RateLimiter != nil {
				limiter = svc.Repos.RateLimiter
			}
			return RunWorkers(ctx, WorkersConfig{
				Queue:    svc.Queue,
				Limiter:  limiter,
				Handlers: svc.Handlers,
				Workers:  deps.cfg.Config.Workers,
				Queues:   deps.cfg.Config.Queue,
				Metrics:  svc.Observability.MetricsSink,
				Logger:   deps.logger,
			})
		},
	}
}

func newSchedulerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeScheduler,
		name: "scheduler",
		start: func(ctx context.Context) error {
			return RunScheduler(ctx, SchedulerConfig{
				Scheduler: deps.cfg.Services.Scheduler,
				Interval:  deps.cfg.Config.Scheduler.Interval,
				Metrics:   deps.cfg.Services.Observability.MetricsSink,
				Logger:    deps.logger,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			cfg := ReaperConfig{
				Repo:    deps.cfg.Services.Repos.JobRepo,
				Config:  deps.cfg.Config.Reaper,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
				Logger:  deps.logger,
			}
			if repo := deps.cfg.Services.Repos.BulkOperationRepo; repo != nil {
				cfg.BulkOps = repo
			}
			return RunReaper(ctx, cfg)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newSchedulerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// The event bus outlives the services that publish to it and drains on stop.
	eventsDone := make(chan struct{})
	eventsCtx, stopEvents := context.WithCancel(ctx)
	go func() {
		defer close(eventsDone)
		_ = cfg.Services.Events.Run(eventsCtx)
	}()

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	err = waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		queue:       cfg.Services.Queue,
		timeout:     cfg.Config.HTTP.ShutdownTimeout,
		logger:      logger,
		backgrounds: result.Background,
	})

	stopEvents()
	waitForService(eventsDone, "event bus", logger)
	if dropped := cfg.Services.Events.Dropped(); dropped > 0 {
		logger.Warn("job events dropped", "count", dropped)
	}
	if cerr := cfg.Services.Observability.Close(); cerr != nil {
		logger.Warn("close metrics client failed", "error", cerr)
	}
	return err
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	queue       *service.QueueService
	timeout     time.Duration
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	var httpErr error
	if cfg.httpServer != nil {
		// The service context is already canceled; shutdown gets its own budget.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cfg.ctx), shutdownWaitTimeout)
		defer cancel()

		httpErr = ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Timeout: cfg.timeout,
			Logger:  cfg.logger,
		})
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if cfg.queue != nil {
		cfg.queue.StopAllListeners()
	}
	return httpErr
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
