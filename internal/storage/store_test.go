package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "flowair.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetBalanceUnknownUserIsZero(t *testing.T) {
	s := openTestStore(t)
	n, err := s.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 for unknown user, got %d", n)
	}
	if _, err := s.GetProfile(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.ReserveCredit(ctx, "u1", "r0"); !errors.Is(err, ErrNoCredits) {
		t.Fatalf("reserve without profile: expected ErrNoCredits, got %v", err)
	}

	prev, err := s.SetCredits(ctx, "u1", 2, "grant-1")
	if err != nil || prev != 0 {
		t.Fatalf("set credits: prev=%d err=%v", prev, err)
	}

	for i, want := range []int64{1, 0} {
		got, err := s.ReserveCredit(ctx, "u1", "r")
		if err != nil {
			t.Fatalf("reserve #%d: %v", i, err)
		}
		if got != want {
			t.Fatalf("reserve #%d: remaining=%d want %d", i, got, want)
		}
	}
	if _, err := s.ReserveCredit(ctx, "u1", "r"); !errors.Is(err, ErrNoCredits) {
		t.Fatalf("expected ErrNoCredits at zero, got %v", err)
	}

	n, err := s.ReleaseCredit(ctx, "u1", "r")
	if err != nil || n != 1 {
		t.Fatalf("release: n=%d err=%v", n, err)
	}
	if _, err := s.ReleaseCredit(ctx, "ghost", "r"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("release for unknown user: expected ErrNotFound, got %v", err)
	}

	hist, err := s.BalanceHistory(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	wantTypes := []string{ChangeRefund, ChangeDeduct, ChangeDeduct, ChangeGrant}
	if len(hist) != len(wantTypes) {
		t.Fatalf("expected %d history rows, got %d", len(wantTypes), len(hist))
	}
	for i, ct := range wantTypes {
		if hist[i].ChangeType != ct {
			t.Fatalf("history[%d] = %s, want %s", i, hist[i].ChangeType, ct)
		}
	}
	if hist[3].Amount != 2 || hist[3].PreviousAmount != 0 || hist[3].ReferenceID != "grant-1" {
		t.Fatalf("unexpected grant row %+v", hist[3])
	}
}

func TestReserveConcurrentNeverOverspends(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.SetCredits(ctx, "u1", 3, ""); err != nil {
		t.Fatalf("set credits: %v", err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ReserveCredit(ctx, "u1", ""); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, ErrNoCredits) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 3 {
		t.Fatalf("expected exactly 3 reservations, got %d", ok)
	}
	if n, _ := s.GetBalance(ctx, "u1"); n != 0 {
		t.Fatalf("expected balance 0, got %d", n)
	}
}

func TestSetTierKeepsCredits(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.SetCredits(ctx, "u1", 9, ""); err != nil {
		t.Fatalf("set credits: %v", err)
	}
	if err := s.SetTier(ctx, "u1", "pro"); err != nil {
		t.Fatalf("set tier: %v", err)
	}
	p, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.SubscriptionTier != "pro" || p.CreditsRemaining != 9 {
		t.Fatalf("unexpected profile %+v", p)
	}

	if err := s.SetTier(ctx, "u2", "pro"); err != nil {
		t.Fatalf("set tier for new user: %v", err)
	}
	if n, _ := s.GetBalance(ctx, "u2"); n != 0 {
		t.Fatalf("tier-only profile should start at 0 credits, got %d", n)
	}
}

func TestSetCreditsRejectsNegative(t *testing.T) {
	if _, err := openTestStore(t).SetCredits(context.Background(), "u1", -1, ""); err == nil {
		t.Fatalf("expected error for negative credits")
	}
}

func TestUsageStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	records := []UsageRecord{
		{ID: "a", UserID: "u1", BotID: "code-generator", CreatedAt: now.Add(-time.Hour)},
		{ID: "b", UserID: "u1", BotID: "code-generator", CreatedAt: now.AddDate(0, 0, -3)},
		{ID: "c", UserID: "u1", BotID: "email-generator", CreatedAt: now.AddDate(0, -2, 0)},
		{ID: "d", UserID: "u2", BotID: "email-generator", CreatedAt: now},
	}
	for _, r := range records {
		if err := s.AppendUsage(ctx, r); err != nil {
			t.Fatalf("append %s: %v", r.ID, err)
		}
	}
	// redelivery of the same record is ignored
	if err := s.AppendUsage(ctx, records[0]); err != nil {
		t.Fatalf("re-append: %v", err)
	}

	st, err := s.UsageStats(ctx, "u1", now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := UsageStats{Total: 3, Today: 1, ThisMonth: 2, FavoriteBot: "code-generator"}
	if st != want {
		t.Fatalf("stats = %+v, want %+v", st, want)
	}

	empty, err := s.UsageStats(ctx, "nobody", now)
	if err != nil || empty != (UsageStats{}) {
		t.Fatalf("expected zero stats, got %+v %v", empty, err)
	}

	recent, err := s.RecentUsage(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "a" || recent[1].ID != "b" {
		t.Fatalf("unexpected recent usage %+v", recent)
	}
}

func TestAppendUsageAssignsID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.AppendUsage(ctx, UsageRecord{UserID: "u1", BotID: "x", ResponseText: "[audio]"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	recent, err := s.RecentUsage(ctx, "u1", 0)
	if err != nil || len(recent) != 1 || recent[0].ID == "" {
		t.Fatalf("expected one record with generated id, got %+v %v", recent, err)
	}
	if err := s.AppendUsage(ctx, UsageRecord{}); err == nil {
		t.Fatalf("expected error for record without user id")
	}
}
