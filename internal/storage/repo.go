package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNoCredits = errors.New("no credits remaining")
)

const profileUpsertSuffix = "ON CONFLICT(user_id) DO UPDATE SET %s, updated_at=excluded.updated_at"

func (s *Store) GetProfile(ctx context.Context, userID string) (Profile, error) {
	q := s.sql.Select("user_id", "subscription_tier", "credits_remaining", "created_at", "updated_at").
		From("profiles").
		Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Profile{}, fmt.Errorf("build get profile query: %w", err)
	}

	var p Profile
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&p.UserID,
		&p.SubscriptionTier,
		&p.CreditsRemaining,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// GetBalance returns 0 for unknown users.
func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	q := s.sql.Select("credits_remaining").From("profiles").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build get balance query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return n, nil
}

// ReserveCredit takes one credit if and only if the balance is positive.
// The guard and the decrement are a single statement, so concurrent callers
// can never drive the balance below zero.
func (s *Store) ReserveCredit(ctx context.Context, userID, ref string) (int64, error) {
	var remaining int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.adjust(ctx, tx, userID, -1, sq.Gt{"credits_remaining": 0})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNoCredits
			}
			return fmt.Errorf("reserve credit: %w", err)
		}
		remaining = n
		return s.recordChange(ctx, tx, BalanceChange{
			UserID:         userID,
			Amount:         -1,
			PreviousAmount: n + 1,
			ChangeType:     ChangeDeduct,
			ReferenceID:    ref,
		})
	})
	return remaining, err
}

// ReleaseCredit returns a reserved credit.
func (s *Store) ReleaseCredit(ctx context.Context, userID, ref string) (int64, error) {
	var remaining int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.adjust(ctx, tx, userID, 1, nil)
		if err != nil {
			return fmt.Errorf("release credit: %w", err)
		}
		remaining = n
		return s.recordChange(ctx, tx, BalanceChange{
			UserID:         userID,
			Amount:         1,
			PreviousAmount: n - 1,
			ChangeType:     ChangeRefund,
			ReferenceID:    ref,
		})
	})
	return remaining, err
}

func (s *Store) adjust(ctx context.Context, tx *sql.Tx, userID string, delta int64, guard sq.Sqlizer) (int64, error) {
	where := sq.And{sq.Eq{"user_id": userID}}
	if guard != nil {
		where = append(where, guard)
	}
	q := s.sql.Update("profiles").
		Set("credits_remaining", sq.Expr("credits_remaining + ?", delta)).
		Set("updated_at", s.now()).
		Where(where).
		Suffix("RETURNING credits_remaining")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build adjust balance query: %w", err)
	}
	var n int64
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

// SetCredits overwrites the balance, creating the profile when absent, and
// returns the previous balance.
func (s *Store) SetCredits(ctx context.Context, userID string, credits int64, ref string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("user id is empty")
	}
	if credits < 0 {
		return 0, fmt.Errorf("credits must be >= 0")
	}

	var prev int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sel, args, err := s.sql.Select("credits_remaining").From("profiles").Where(sq.Eq{"user_id": userID}).ToSql()
		if err != nil {
			return fmt.Errorf("build select balance query: %w", err)
		}
		if err := tx.QueryRowContext(ctx, sel, args...).Scan(&prev); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("select balance: %w", err)
		}

		now := s.now()
		q := s.sql.Insert("profiles").
			Columns("user_id", "subscription_tier", "credits_remaining", "created_at", "updated_at").
			Values(userID, DefaultTier, credits, now, now).
			Suffix(fmt.Sprintf(profileUpsertSuffix, "credits_remaining=excluded.credits_remaining"))
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build set credits query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("set credits: %w", err)
		}
		return s.recordChange(ctx, tx, BalanceChange{
			UserID:         userID,
			Amount:         credits - prev,
			PreviousAmount: prev,
			ChangeType:     ChangeGrant,
			ReferenceID:    ref,
		})
	})
	return prev, err
}

func (s *Store) SetTier(ctx context.Context, userID, tier string) error {
	tier = strings.TrimSpace(tier)
	if tier == "" {
		return fmt.Errorf("tier is empty")
	}
	now := s.now()
	q := s.sql.Insert("profiles").
		Columns("user_id", "subscription_tier", "credits_remaining", "created_at", "updated_at").
		Values(userID, tier, 0, now, now).
		Suffix(fmt.Sprintf(profileUpsertSuffix, "subscription_tier=excluded.subscription_tier"))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set tier query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	return nil
}

func (s *Store) recordChange(ctx context.Context, tx *sql.Tx, c BalanceChange) error {
	q := s.sql.Insert("balance_history").
		Columns("user_id", "amount", "previous_amount", "change_type", "reference_id", "created_at").
		Values(c.UserID, c.Amount, c.PreviousAmount, c.ChangeType, c.ReferenceID, s.now())
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build balance history insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert balance history: %w", err)
	}
	return nil
}

func (s *Store) BalanceHistory(ctx context.Context, userID string, limit uint64) ([]BalanceChange, error) {
	if limit == 0 {
		limit = 50
	}
	q := s.sql.Select("id", "user_id", "amount", "previous_amount", "change_type", "reference_id", "created_at").
		From("balance_history").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("id DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build balance history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list balance history: %w", err)
	}
	defer rows.Close()

	out := make([]BalanceChange, 0)
	for rows.Next() {
		var c BalanceChange
		if err := rows.Scan(&c.ID, &c.UserID, &c.Amount, &c.PreviousAmount, &c.ChangeType, &c.ReferenceID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan balance history: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance history: %w", err)
	}
	return out, nil
}
