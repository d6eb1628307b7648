// Package throttle holds the redis-backed request guards that run before a
// credit is touched: a per-user hourly window and idempotency keys.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// HourlyLimiter is a fixed one-hour window per user. A limit of zero or
// less disables it.
type HourlyLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int64
}

func NewHourlyLimiter(rdb *redis.Client, prefix string, limit int64) *HourlyLimiter {
	if prefix == "" {
		prefix = "flowair"
	}
	return &HourlyLimiter{redis: rdb, prefix: prefix, limit: limit}
}

func (r *HourlyLimiter) Allow(ctx context.Context, userID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	if r == nil || r.limit <= 0 {
		return true, 0, windowEnd, nil
	}
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("%s:ratelimit:%s:%s", r.prefix, userID, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// IdempotencyGuard remembers request keys for a TTL.
type IdempotencyGuard struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewIdempotencyGuard(rdb *redis.Client, prefix string, ttl time.Duration) *IdempotencyGuard {
	if prefix == "" {
		prefix = "flowair"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{redis: rdb, prefix: prefix, ttl: ttl}
}

// MarkFirst reports whether key was unseen for this user. Keys are scoped
// per user so two users cannot collide.
func (d *IdempotencyGuard) MarkFirst(ctx context.Context, userID, key string) (bool, error) {
	k := fmt.Sprintf("%s:idem:%s:%s", d.prefix, userID, key)
	ok, err := d.redis.SetNX(ctx, k, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency setnx: %w", err)
	}
	return ok, nil
}

// Forget drops a key so the client may retry after a request that did not
// complete.
func (d *IdempotencyGuard) Forget(ctx context.Context, userID, key string) error {
	k := fmt.Sprintf("%s:idem:%s:%s", d.prefix, userID, key)
	if err := d.redis.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("idempotency del: %w", err)
	}
	return nil
}
