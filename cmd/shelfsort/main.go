// Command shelfsort runs the webhook server, queue workers, cron scheduler and reaper.
// SERVICES selects which of them this process hosts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/acme/shelfsort/internal/bootstrap"
	"github.com/acme/shelfsort/internal/observability/telemetry"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

const telemetryShutdownTimeout = 5 * time.Second

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("shelfsort exited", "error", err)
		os.Exit(1) //nolint:forbidigo // fatal startup or runtime error
	}
}

// closers releases resources in reverse acquisition order.
type closers []func(context.Context) error

func (c *closers) add(fn func(context.Context) error) { *c = append(*c, fn) }

func (c closers) close(ctx context.Context, logger *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](ctx); err != nil {
			logger.ErrorContext(ctx, "shutdown step failed", "error", err)
		}
	}
}

func run(ctx context.Context) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		bootstrap.InitLogger(nil, false)
		return err
	}

	tel, err := telemetry.Setup(ctx, cfg.Observability, version)
	if err != nil {
		bootstrap.InitLogger(&cfg, false)
		return fmt.Errorf("setup telemetry: %w", err)
	}
	logger := bootstrap.InitLogger(&cfg, tel.LogsEnabled())

	var cleanup closers
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		cleanup.close(shutdownCtx, logger)
	}()
	cleanup.add(tel.Shutdown)

	logger.InfoContext(ctx, "starting shelfsort",
		"version", version,
		"db_host", cfg.Postgres.Host,
		"db_name", cfg.Postgres.Name,
		"shopify_api_version", cfg.Shopify.APIVersion,
		"enabled_services", bootstrap.GetEnabledServices(&cfg))

	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}

	dbCfg := bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, RedisConfig: cfg.Redis, Logger: logger}
	db, err := bootstrap.ConnectDB(dbCfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	cleanup.add(func(context.Context) error { return db.Close() })

	redisClient, err := bootstrap.ConnectRedis(dbCfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	cleanup.add(func(context.Context) error { return redisClient.Close() })

	if cfg.Postgres.RunMigrationsOnStart {
		if err := bootstrap.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "database migrations disabled on startup")
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:      &cfg,
		Services:    services,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
	})
}
