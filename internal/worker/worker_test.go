package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"flowair/internal/ledger"
	"flowair/internal/storage"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func streamFor(t *testing.T, rdb *redis.Client, consumer string) *ledger.UsageStream {
	t.Helper()
	us := ledger.NewUsageStream(rdb, "usage", "drain", consumer, -1)
	if err := us.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	return us
}

func newStream(t *testing.T) *ledger.UsageStream {
	t.Helper()
	return streamFor(t, newRedis(t), "w1")
}

type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	stored   []storage.UsageRecord
}

func (s *flakySink) AppendUsage(_ context.Context, r storage.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("db unavailable")
	}
	s.stored = append(s.stored, r)
	return nil
}

func TestDrainPersistsIntoSQL(t *testing.T) {
	ctx := context.Background()
	us := newStream(t)
	store, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "w.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	for _, id := range []string{"a", "b"} {
		if err := us.AppendUsage(ctx, storage.UsageRecord{ID: id, UserID: "u1", BotID: "tutor"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	w := New(Config{Source: us, Sink: store, Logger: zerolog.Nop()})
	n, err := w.drainOnce(ctx, zerolog.Nop())
	if err != nil || n != 2 {
		t.Fatalf("drain: n=%d err=%v", n, err)
	}
	recent, err := store.RecentUsage(ctx, "u1", 0)
	if err != nil || len(recent) != 2 {
		t.Fatalf("expected 2 persisted records, got %d %v", len(recent), err)
	}
	if n, _ := w.drainOnce(ctx, zerolog.Nop()); n != 0 {
		t.Fatalf("acked messages must not be redelivered, got %d", n)
	}
}

func TestDrainRequeuesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	us := newStream(t)
	sink := &flakySink{failures: 1}
	if err := us.AppendUsage(ctx, storage.UsageRecord{ID: "a", UserID: "u1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	w := New(Config{Source: us, Sink: sink, MaxRetries: 2, Logger: zerolog.Nop()})
	if _, err := w.drainOnce(ctx, zerolog.Nop()); err != nil {
		t.Fatalf("drain#1: %v", err)
	}
	if _, err := w.drainOnce(ctx, zerolog.Nop()); err != nil {
		t.Fatalf("drain#2: %v", err)
	}
	if sink.calls != 2 || len(sink.stored) != 1 || sink.stored[0].ID != "a" {
		t.Fatalf("expected retry to persist the record, calls=%d stored=%+v", sink.calls, sink.stored)
	}
}

func TestDrainDropsAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	us := newStream(t)
	sink := &flakySink{failures: 10}
	if err := us.AppendUsage(ctx, storage.UsageRecord{ID: "a", UserID: "u1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	w := New(Config{Source: us, Sink: sink, MaxRetries: 1, Logger: zerolog.Nop()})
	for i := 0; i < 3; i++ {
		if _, err := w.drainOnce(ctx, zerolog.Nop()); err != nil {
			t.Fatalf("drain#%d: %v", i, err)
		}
	}
	if sink.calls != 2 {
		t.Fatalf("expected first attempt plus one retry, got %d calls", sink.calls)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	us := newStream(t)
	w := New(Config{Source: us, Sink: &flakySink{}, Logger: zerolog.Nop(), Backoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, 2) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}

// cancellingSink aborts the surrounding run on its first write, the way a
// shutdown signal lands in the middle of a batch.
type cancellingSink struct {
	flakySink
	cancel context.CancelFunc
	once   sync.Once
}

func (s *cancellingSink) AppendUsage(ctx context.Context, r storage.UsageRecord) error {
	first := false
	s.once.Do(func() {
		first = true
		s.cancel()
	})
	if first {
		return context.Canceled
	}
	return s.flakySink.AppendUsage(ctx, r)
}

func TestShutdownMidBatchLosesNothing(t *testing.T) {
	rdb := newRedis(t)
	us := streamFor(t, rdb, "w1")
	for _, id := range []string{"a", "b"} {
		if err := us.AppendUsage(context.Background(), storage.UsageRecord{ID: id, UserID: "u1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := &cancellingSink{cancel: cancel}
	w := New(Config{Source: us, Sink: first, MaxRetries: 3, Logger: zerolog.Nop()})
	if n, err := w.drainOnce(ctx, zerolog.Nop()); err != nil || n != 2 {
		t.Fatalf("drain during shutdown: n=%d err=%v", n, err)
	}

	restarted := &flakySink{}
	w2 := New(Config{Source: streamFor(t, rdb, "w1"), Sink: restarted, MaxRetries: 3, Logger: zerolog.Nop()})
	if _, err := w2.drainOnce(context.Background(), zerolog.Nop()); err != nil {
		t.Fatalf("drain after restart: %v", err)
	}

	got := map[string]bool{}
	for _, r := range append(first.stored, restarted.stored...) {
		got[r.ID] = true
	}
	if !got["a"] || !got["b"] {
		t.Fatalf("expected both records persisted across the restart, got %v", got)
	}
	assertNothingPending(t, rdb)
}

func TestReclaimRecoversEntriesLeftByCrashedConsumer(t *testing.T) {
	ctx := context.Background()
	rdb := newRedis(t)
	crashed := streamFor(t, rdb, "w1")
	for _, id := range []string{"a", "b"} {
		if err := crashed.AppendUsage(ctx, storage.UsageRecord{ID: id, UserID: "u1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// delivered, then the process dies before acking
	if msgs, err := crashed.Read(ctx, 10); err != nil || len(msgs) != 2 {
		t.Fatalf("read: %d %v", len(msgs), err)
	}

	sink := &flakySink{}
	w := New(Config{Source: streamFor(t, rdb, "w2"), Sink: sink, ReclaimIdle: time.Millisecond, Logger: zerolog.Nop()})
	if n, _ := w.drainOnce(ctx, zerolog.Nop()); n != 0 {
		t.Fatalf("delivered entries must not show up as new, got %d", n)
	}

	time.Sleep(20 * time.Millisecond)
	n, err := w.reclaimOnce(ctx, zerolog.Nop())
	if err != nil || n != 2 {
		t.Fatalf("reclaim: n=%d err=%v", n, err)
	}
	if len(sink.stored) != 2 {
		t.Fatalf("expected 2 persisted records, got %d", len(sink.stored))
	}
	if n, err := w.reclaimOnce(ctx, zerolog.Nop()); err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestUndecodableEntriesAreAckedAndDropped(t *testing.T) {
	ctx := context.Background()
	rdb := newRedis(t)
	us := streamFor(t, rdb, "w1")
	for _, values := range []map[string]any{{"other": "x"}, {"payload": "{not json"}} {
		if err := rdb.XAdd(ctx, &redis.XAddArgs{Stream: "usage", Values: values}).Err(); err != nil {
			t.Fatalf("xadd: %v", err)
		}
	}

	sink := &flakySink{}
	w := New(Config{Source: us, Sink: sink, Logger: zerolog.Nop()})
	if n, err := w.drainOnce(ctx, zerolog.Nop()); err != nil || n != 2 {
		t.Fatalf("drain: n=%d err=%v", n, err)
	}
	if sink.calls != 0 {
		t.Fatalf("undecodable entries must not reach the sink")
	}
	assertNothingPending(t, rdb)
	if n, err := rdb.XLen(ctx, "usage").Result(); err != nil || n != 0 {
		t.Fatalf("expected entries deleted, len=%d err=%v", n, err)
	}
}

func assertNothingPending(t *testing.T, rdb *redis.Client) {
	t.Helper()
	pending, err := rdb.XPendingExt(context.Background(), &redis.XPendingExtArgs{
		Stream: "usage",
		Group:  "drain",
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending list, got %+v", pending)
	}
}
