package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Postgres and Redis
//   - http.go: HTTP server and webhook verification
//   - services.go: service modes, workers, scheduler and reaper
//   - queue.go: retry, busy delay and dedup windows
//   - shopify.go: Admin API access
//   - observability.go: metrics, tracing and failure notifications
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or APP_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	HTTP HTTPConfig

	// Services is a comma-delimited list of enabled services.
	Services string `env:"SERVICES" envDefault:"http"`

	Workers   WorkersConfig
	Queue     QueueConfig
	Shopify   ShopifyConfig `envPrefix:"SHOPIFY_"`
	Scheduler SchedulerConfig
	Reaper    ReaperConfig

	Observability ObservabilityConfig
}

// Sanitize clamps loaded values into their supported ranges. LoadConfig calls it after
// parsing the environment.
func (c *AppConfig) Sanitize() {
	for _, sanitizer := range []interface{ Sanitize() }{
		&c.HTTP, &c.Cache, &c.Workers, &c.Queue, &c.Shopify, &c.Scheduler, &c.Reaper, &c.Observability,
	} {
		sanitizer.Sanitize()
	}
	if !c.IsDev {
		switch strings.ToLower(os.Getenv("APP_ENV")) {
		case "dev", "development":
			c.IsDev = true
		}
	}
}

// GetEnabledServices parses Services.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// Enabled reports whether mode is listed in Services. A malformed list enables nothing.
func (c *AppConfig) Enabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	return err == nil && services[mode]
}
