package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestHourlyLimiterAllow(t *testing.T) {
	_, rdb := newRedis(t)
	rl := NewHourlyLimiter(rdb, "test", 2)
	now := time.Date(2026, 2, 13, 10, 15, 0, 0, time.UTC)

	for i, want := range []bool{true, true, false} {
		allowed, used, resetAt, err := rl.Allow(context.Background(), "u1", now)
		if err != nil {
			t.Fatalf("allow#%d: %v", i+1, err)
		}
		if allowed != want || used != int64(i+1) {
			t.Fatalf("allow#%d: allowed=%v used=%d", i+1, allowed, used)
		}
		if !resetAt.Equal(time.Date(2026, 2, 13, 11, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected reset %v", resetAt)
		}
	}

	allowed, _, _, err := rl.Allow(context.Background(), "u2", now)
	if err != nil || !allowed {
		t.Fatalf("other users have their own window: allowed=%v err=%v", allowed, err)
	}

	allowed, used, _, err := rl.Allow(context.Background(), "u1", now.Add(time.Hour))
	if err != nil || !allowed || used != 1 {
		t.Fatalf("next window should start fresh: allowed=%v used=%d err=%v", allowed, used, err)
	}
}

func TestHourlyLimiterWindowExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	rl := NewHourlyLimiter(rdb, "test", 1)
	now := time.Date(2026, 2, 13, 10, 59, 30, 0, time.UTC)

	if _, _, _, err := rl.Allow(context.Background(), "u1", now); err != nil {
		t.Fatalf("allow: %v", err)
	}
	mr.FastForward(31 * time.Second)
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("window key should expire at the hour boundary, still have %v", keys)
	}
}

func TestHourlyLimiterDisabled(t *testing.T) {
	_, rdb := newRedis(t)
	rl := NewHourlyLimiter(rdb, "test", 0)
	for i := 0; i < 5; i++ {
		allowed, _, _, err := rl.Allow(context.Background(), "u1", time.Now())
		if err != nil || !allowed {
			t.Fatalf("disabled limiter must allow: %v %v", allowed, err)
		}
	}
	var nilLimiter *HourlyLimiter
	if allowed, _, _, _ := nilLimiter.Allow(context.Background(), "u1", time.Now()); !allowed {
		t.Fatalf("nil limiter must allow")
	}
}

func TestIdempotencyGuard(t *testing.T) {
	mr, rdb := newRedis(t)
	g := NewIdempotencyGuard(rdb, "test", time.Hour)
	ctx := context.Background()

	first, err := g.MarkFirst(ctx, "u1", "k1")
	if err != nil || !first {
		t.Fatalf("first use: %v %v", first, err)
	}
	again, err := g.MarkFirst(ctx, "u1", "k1")
	if err != nil || again {
		t.Fatalf("repeat must be rejected: %v %v", again, err)
	}
	other, err := g.MarkFirst(ctx, "u2", "k1")
	if err != nil || !other {
		t.Fatalf("keys are per user: %v %v", other, err)
	}

	if err := g.Forget(ctx, "u1", "k1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if ok, _ := g.MarkFirst(ctx, "u1", "k1"); !ok {
		t.Fatalf("forgotten key should be usable again")
	}

	mr.FastForward(2 * time.Hour)
	if ok, _ := g.MarkFirst(ctx, "u2", "k1"); !ok {
		t.Fatalf("key should expire after ttl")
	}
}
