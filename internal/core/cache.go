package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/acme/shelfsort/internal/domain/model"
)

// CacheRepository defines the interface for caching operations.
// This follows the hexagonal architecture pattern where the core defines interfaces
// and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically stores value when key is absent and reports whether it did.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// MerchantSettings resolves merchant settings by shop.
type MerchantSettings interface {
	Get(ctx context.Context, shop string) (*model.MerchantConfig, error)
}

// MerchantCacheService is a read-through cache in front of MerchantRepository.
// Settings are read on every webhook, so the database is only hit on a miss.
type MerchantCacheService struct {
	cache     CacheRepository
	merchants MerchantRepository
	ttl       time.Duration
}

// MerchantCacheConfig holds configuration for merchant caching.
type MerchantCacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// MerchantCacheServiceOptions bundles dependencies for NewMerchantCacheService.
type MerchantCacheServiceOptions struct {
	Cache     CacheRepository
	Merchants MerchantRepository
	Config    MerchantCacheConfig
}

// DefaultMerchantCacheConfig returns a MerchantCacheConfig with sensible defaults.
func DefaultMerchantCacheConfig() MerchantCacheConfig {
	return MerchantCacheConfig{TTL: 5 * time.Minute}
}

// NewMerchantCacheService creates a new MerchantCacheService.
func NewMerchantCacheService(opts MerchantCacheServiceOptions) *MerchantCacheService {
	ttl := opts.Config.TTL
	if ttl <= 0 {
		ttl = DefaultMerchantCacheConfig().TTL
	}
	return &MerchantCacheService{
		cache:     opts.Cache,
		merchants: opts.Merchants,
		ttl:       ttl,
	}
}

// Get returns the merchant settings for shop, filling the cache on a miss.
// Cache failures fall back to the repository.
func (s *MerchantCacheService) Get(ctx context.Context, shop string) (*model.MerchantConfig, error) {
	key := merchantKey(shop)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil && len(raw) > 0 {
			var cfg model.MerchantConfig
			if json.Unmarshal(raw, &cfg) == nil {
				return &cfg, nil
			}
		}
	}

	cfg, err := s.merchants.Get(ctx, shop)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, mErr := json.Marshal(cfg); mErr == nil {
			_ = s.cache.Set(ctx, key, raw, s.ttl)
		}
	}
	return cfg, nil
}

// Invalidate drops the cached settings for shop.
func (s *MerchantCacheService) Invalidate(ctx context.Context, shop string) error {
	if s.cache == nil {
		return nil
	}
	_, err := s.cache.Delete(ctx, merchantKey(shop))
	return err
}

func merchantKey(shop string) string {
	return "merchant:config:" + shop
}

var _ MerchantSettings = (*MerchantCacheService)(nil)
