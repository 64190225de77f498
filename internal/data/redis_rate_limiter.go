package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acme/shelfsort/internal/core"
)

// fixedWindowScript increments the window counter and starts the window on first use.
// It returns the new count and the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisRateLimiter is a fixed-window limiter shared by every worker process.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter storing counters under prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: prefix + "ratelimit:"}
}

// Allow consumes one token for key. When the window is exhausted it returns false and
// the time until the window resets.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit core.RateLimit) (bool, time.Duration, error) {
	if !limit.Enabled() {
		return true, 0, nil
	}
	if key == "" {
		return false, 0, errors.New("rate limit key cannot be empty")
	}

	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, limit.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	if res[0] <= int64(limit.Max) {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Millisecond, nil
}

var _ core.RateLimiter = (*RedisRateLimiter)(nil)
