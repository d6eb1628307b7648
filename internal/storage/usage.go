package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// AppendUsage inserts a usage record. Re-appending a record with the same ID
// is a no-op so stream redelivery cannot double count.
func (s *Store) AppendUsage(ctx context.Context, r UsageRecord) error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("usage record has no user id")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	q := s.sql.Insert("usage_records").
		Columns("id", "user_id", "bot_id", "prompt_text", "response_text", "tokens_used", "created_at").
		Values(r.ID, r.UserID, r.BotID, r.PromptText, r.ResponseText, r.TokensUsed, r.CreatedAt.UTC()).
		Suffix("ON CONFLICT(id) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build usage insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (s *Store) RecentUsage(ctx context.Context, userID string, limit uint64) ([]UsageRecord, error) {
	if limit == 0 {
		limit = 20
	}
	q := s.sql.Select("id", "user_id", "bot_id", "prompt_text", "response_text", "tokens_used", "created_at").
		From("usage_records").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent usage query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	out := make([]UsageRecord, 0)
	for rows.Next() {
		var r UsageRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.BotID, &r.PromptText, &r.ResponseText, &r.TokensUsed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return out, nil
}

// UsageStats counts records in UTC calendar windows ending at now.
func (s *Store) UsageStats(ctx context.Context, userID string, now time.Time) (UsageStats, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	q := s.sql.Select("COUNT(*)").
		Column(sq.Expr("COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)", dayStart)).
		Column(sq.Expr("COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)", monthStart)).
		From("usage_records").
		Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return UsageStats{}, fmt.Errorf("build usage stats query: %w", err)
	}

	var st UsageStats
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&st.Total, &st.Today, &st.ThisMonth); err != nil {
		return UsageStats{}, fmt.Errorf("usage stats: %w", err)
	}
	if st.Total == 0 {
		return st, nil
	}

	fav := s.sql.Select("bot_id").
		From("usage_records").
		Where(sq.Eq{"user_id": userID}).
		GroupBy("bot_id").
		OrderBy("COUNT(*) DESC", "bot_id ASC").
		Limit(1)
	sqlStr, args, err = fav.ToSql()
	if err != nil {
		return UsageStats{}, fmt.Errorf("build favorite bot query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&st.FavoriteBot); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return UsageStats{}, fmt.Errorf("favorite bot: %w", err)
	}
	return st, nil
}
