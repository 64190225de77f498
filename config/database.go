package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"shelfsort"`
	Password string `env:"PASSWORD" envDefault:"shelfsort"`
	Name     string `env:"NAME"     envDefault:"shelfsort"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelPort       string   `env:"SENTINEL_PORT"        envDefault:"26379"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
	// KeyPrefix namespaces every key this service writes.
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"shelfsort:"`
}

// CacheConfig controls the Redis-backed read-through caches.
type CacheConfig struct {
	// MerchantTTL is how long merchant settings stay cached between webhook bursts.
	MerchantTTL time.Duration `env:"CACHE_MERCHANT_TTL" envDefault:"5m"`
	// WebhookDedupTTL is how long a delivered webhook id is remembered.
	WebhookDedupTTL time.Duration `env:"CACHE_WEBHOOK_DEDUP_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	if c.MerchantTTL < 0 {
		c.MerchantTTL = 0
	}
	if c.WebhookDedupTTL <= 0 {
		c.WebhookDedupTTL = 24 * time.Hour
	}
}
