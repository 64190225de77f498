package data

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/acme/shelfsort/internal/errors"
)

// minClaimTTL bounds SetIfNotExists so a claim can never be stored without expiry.
const minClaimTTL = time.Second

// RedisCacheRepo is the Redis implementation of core.CacheRepository. It backs the
// merchant settings cache and webhook delivery dedup. All keys live under prefix.
type RedisCacheRepo struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCacheRepo wraps client; prefix is usually config.RedisConfig.KeyPrefix.
func NewRedisCacheRepo(client redis.UniversalClient, prefix string) *RedisCacheRepo {
	return &RedisCacheRepo{client: client, prefix: prefix}
}

func (r *RedisCacheRepo) key(k string) (string, error) {
	if k == "" {
		return "", apperrors.ValidationField("key", "cache key cannot be empty")
	}
	return r.prefix + k, nil
}

func redisErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Transient(err, "redis "+op)
}

// Set stores value for ttl; zero ttl keeps it until deleted.
func (r *RedisCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, err := r.key(key)
	if err != nil {
		return err
	}
	return redisErr("set", r.client.Set(ctx, k, value, ttl).Err())
}

// Get returns nil, nil for a missing key.
func (r *RedisCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := r.key(key)
	if err != nil {
		return nil, err
	}
	val, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, redisErr("get", err)
}

// Delete reports whether the key existed.
func (r *RedisCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	n, err := r.client.Del(ctx, k).Result()
	return n > 0, redisErr("del", err)
}

// SetIfNotExists claims key with a single SET NX PX and reports whether this caller won.
func (r *RedisCacheRepo) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	err = r.client.SetArgs(ctx, k, value, redis.SetArgs{Mode: "NX", TTL: max(ttl, minClaimTTL)}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, redisErr("set nx", err)
	}
	return true, nil
}

// Health pings Redis; it backs the redis readiness check.
func (r *RedisCacheRepo) Health(ctx context.Context) error {
	return redisErr("ping", r.client.Ping(ctx).Err())
}
