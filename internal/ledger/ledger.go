// Package ledger gates requests on per-user credits and records usage.
//
// A request takes a credit with CheckAndReserve before any upstream call.
// Release returns it when the call fails; Commit appends the usage record
// when it succeeds. Reserve is a conditional decrement in the balance store,
// so concurrent requests from one user can never spend more than they hold.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flowair/internal/metrics"
	"flowair/internal/storage"
)

// ErrCreditsExhausted is returned by Reserve when the balance is zero or
// the user has no profile.
var ErrCreditsExhausted = storage.ErrNoCredits

// WriteError is a bookkeeping failure after the upstream work already
// happened. Callers log it and still answer the request.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type BalanceStore interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	ReserveCredit(ctx context.Context, userID, ref string) (int64, error)
	ReleaseCredit(ctx context.Context, userID, ref string) (int64, error)
	SetCredits(ctx context.Context, userID string, credits int64, ref string) (int64, error)
}

type UsageLog interface {
	AppendUsage(ctx context.Context, r storage.UsageRecord) error
}

type Profiles interface {
	GetProfile(ctx context.Context, userID string) (storage.Profile, error)
	SetTier(ctx context.Context, userID, tier string) error
	UsageStats(ctx context.Context, userID string, now time.Time) (storage.UsageStats, error)
}

type Config struct {
	Balances BalanceStore
	Usage    UsageLog
	// Profiles is optional; without it every account reports the default tier.
	Profiles Profiles
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type Ledger struct {
	balances BalanceStore
	usage    UsageLog
	profiles Profiles
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(cfg Config) *Ledger {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{
		balances: cfg.Balances,
		usage:    cfg.Usage,
		profiles: cfg.Profiles,
		log:      cfg.Logger.With().Str("component", "ledger").Logger(),
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
}

// Reservation is one credit held for one request.
type Reservation struct {
	ID        string
	UserID    string
	Remaining int64
}

type Account struct {
	UserID           string
	CreditsRemaining int64
	SubscriptionTier string
	Usage            storage.UsageStats
}

func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	n, err := l.balances.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return n, nil
}

func (l *Ledger) CheckAndReserve(ctx context.Context, userID string) (Reservation, error) {
	r := Reservation{ID: uuid.NewString(), UserID: userID}
	n, err := l.balances.ReserveCredit(ctx, userID, r.ID)
	if err != nil {
		if errors.Is(err, ErrCreditsExhausted) {
			return Reservation{}, ErrCreditsExhausted
		}
		return Reservation{}, fmt.Errorf("reserve credit: %w", err)
	}
	r.Remaining = n
	if l.metrics != nil {
		l.metrics.CreditsReserved.Inc()
	}
	return r, nil
}

// Release hands a reserved credit back. It runs detached from ctx
// cancellation so a disconnected caller still gets refunded.
func (l *Ledger) Release(ctx context.Context, r Reservation) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := l.balances.ReleaseCredit(ctx, r.UserID, r.ID); err != nil {
		l.log.Error().Err(err).Str("user_id", r.UserID).Str("reservation", r.ID).Msg("failed to release credit")
		return &WriteError{Op: "release", Err: err}
	}
	if l.metrics != nil {
		l.metrics.CreditsReleased.Inc()
	}
	return nil
}

// Commit finalizes a reservation by appending its usage record. The credit
// stays spent even when the append fails.
func (l *Ledger) Commit(ctx context.Context, r Reservation, rec storage.UsageRecord) error {
	ctx = context.WithoutCancel(ctx)
	rec.ID = r.ID
	rec.UserID = r.UserID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	if err := l.usage.AppendUsage(ctx, rec); err != nil {
		if l.metrics != nil {
			l.metrics.UsageWriteFailures.Inc()
		}
		l.log.Error().Err(err).Str("user_id", r.UserID).Str("reservation", r.ID).Str("bot", rec.BotID).Msg("failed to append usage record")
		return &WriteError{Op: "append usage", Err: err}
	}
	return nil
}

// Grant sets the balance to credits and, when tier is non-empty, the
// subscription tier. The profile is created when absent.
func (l *Ledger) Grant(ctx context.Context, userID string, credits int64, tier string) (Account, error) {
	if strings.TrimSpace(userID) == "" {
		return Account{}, fmt.Errorf("user id is empty")
	}
	if credits < 0 {
		return Account{}, fmt.Errorf("credits must be >= 0")
	}
	ref := "grant-" + uuid.NewString()
	prev, err := l.balances.SetCredits(ctx, userID, credits, ref)
	if err != nil {
		return Account{}, fmt.Errorf("set credits: %w", err)
	}
	if tier = strings.TrimSpace(tier); tier != "" {
		if l.profiles == nil {
			return Account{}, fmt.Errorf("set tier: no profile store")
		}
		if err := l.profiles.SetTier(ctx, userID, tier); err != nil {
			return Account{}, fmt.Errorf("set tier: %w", err)
		}
	}
	l.log.Info().Str("user_id", userID).Int64("previous", prev).Int64("credits", credits).Str("tier", tier).Msg("credits granted")
	return l.Account(ctx, userID)
}

// Account is the caller-facing view of a user. Unknown users get a zero
// balance and the default tier.
func (l *Ledger) Account(ctx context.Context, userID string) (Account, error) {
	n, err := l.GetBalance(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	acc := Account{UserID: userID, CreditsRemaining: n, SubscriptionTier: storage.DefaultTier}
	if l.profiles == nil {
		return acc, nil
	}

	p, err := l.profiles.GetProfile(ctx, userID)
	switch {
	case err == nil:
		acc.SubscriptionTier = p.SubscriptionTier
	case errors.Is(err, storage.ErrNotFound):
	default:
		return Account{}, fmt.Errorf("get profile: %w", err)
	}

	st, err := l.profiles.UsageStats(ctx, userID, l.now())
	if err != nil {
		return Account{}, fmt.Errorf("usage stats: %w", err)
	}
	acc.Usage = st
	return acc, nil
}
