package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/acme/shelfsort/config"
	"github.com/acme/shelfsort/internal/observability/telemetry"
)

// InitLogger builds the process logger and installs it as the slog default. A nil cfg
// yields an info-level JSON logger; otlpLogs adds the OTLP log bridge.
func InitLogger(cfg *config.AppConfig, otlpLogs bool) *slog.Logger {
	opts := telemetry.LoggerOptions{Level: "info", Out: os.Stdout}
	if cfg != nil {
		opts.Level = cfg.Observability.Logging.Level
		opts.Dev = cfg.IsDev
		opts.ServiceName = cfg.Observability.Tracing.ServiceName
		opts.OTLP = otlpLogs
	}
	logger := telemetry.NewLogger(opts)
	slog.SetDefault(logger)
	return logger
}

// LoadConfig reads an optional .env file, then parses and sanitizes the environment.
// Variables already set in the environment win over .env entries.
func LoadConfig() (config.AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
	}
	cfg, err := env.ParseAs[config.AppConfig]()
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig checks that SERVICES is well formed and that the enabled
// services have the credentials they need.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	callsShopify := services[config.ServiceModeHTTP] || services[config.ServiceModeWorker]
	switch {
	case callsShopify && !cfg.Shopify.HasCredentials():
		return errors.New("shopify credentials are required: set SHOPIFY_ACCESS_TOKENS or SHOPIFY_CLIENT_ID and SHOPIFY_CLIENT_SECRET")
	case services[config.ServiceModeHTTP] && cfg.HTTP.WebhookSecret == "" && !cfg.IsDev:
		return errors.New("SHOPIFY_WEBHOOK_SECRET is required outside dev mode")
	}
	return nil
}

// GetEnabledServices lists the enabled service names in canonical order. Invalid
// configuration yields an empty list; ValidateServiceConfig reports the error.
func GetEnabledServices(cfg *config.AppConfig) []string {
	names := []string{}
	if cfg == nil {
		return names
	}
	for _, mode := range config.ValidServiceModes() {
		if cfg.Enabled(mode) {
			names = append(names, string(mode))
		}
	}
	return names
}
