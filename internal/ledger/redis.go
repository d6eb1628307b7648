package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var reserveScript = redis.NewScript(`
local v = tonumber(redis.call("GET", KEYS[1]) or "0")
if v <= 0 then
  return -1
end
return redis.call("DECR", KEYS[1])
`)

var releaseScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("INCR", KEYS[1])
`)

// RedisBalances keeps credit counters in redis. Balance history is not
// recorded for this backend.
type RedisBalances struct {
	redis  *redis.Client
	prefix string
}

func NewRedisBalances(rdb *redis.Client, prefix string) *RedisBalances {
	if prefix == "" {
		prefix = "flowair"
	}
	return &RedisBalances{redis: rdb, prefix: prefix}
}

var _ BalanceStore = (*RedisBalances)(nil)

func (b *RedisBalances) key(userID string) string {
	return fmt.Sprintf("%s:credits:%s", b.prefix, userID)
}

func (b *RedisBalances) GetBalance(ctx context.Context, userID string) (int64, error) {
	raw, err := b.redis.Get(ctx, b.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance: %w", err)
	}
	return n, nil
}

func (b *RedisBalances) ReserveCredit(ctx context.Context, userID, _ string) (int64, error) {
	n, err := reserveScript.Run(ctx, b.redis, []string{b.key(userID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve script: %w", err)
	}
	if n < 0 {
		return 0, ErrCreditsExhausted
	}
	return n, nil
}

func (b *RedisBalances) ReleaseCredit(ctx context.Context, userID, _ string) (int64, error) {
	n, err := releaseScript.Run(ctx, b.redis, []string{b.key(userID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("release script: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("release credit for %q: no balance key", userID)
	}
	return n, nil
}

func (b *RedisBalances) SetCredits(ctx context.Context, userID string, credits int64, _ string) (int64, error) {
	if credits < 0 {
		return 0, fmt.Errorf("credits must be >= 0")
	}
	prev, err := b.redis.GetSet(ctx, b.key(userID), credits).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("set credits: %w", err)
	}
	if prev == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(prev, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
