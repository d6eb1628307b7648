package storage

import "time"

const DefaultTier = "free"

// Balance change types recorded in balance_history.
const (
	ChangeDeduct = "deduct"
	ChangeRefund = "refund"
	ChangeGrant  = "grant"
)

type Profile struct {
	UserID           string
	SubscriptionTier string
	CreditsRemaining int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UsageRecord is one completed request. Rows are never updated.
type UsageRecord struct {
	ID           string
	UserID       string
	BotID        string
	PromptText   string
	ResponseText string
	TokensUsed   int
	CreatedAt    time.Time
}

type BalanceChange struct {
	ID             int64
	UserID         string
	Amount         int64
	PreviousAmount int64
	ChangeType     string
	ReferenceID    string
	CreatedAt      time.Time
}

type UsageStats struct {
	Total       int64
	Today       int64
	ThisMonth   int64
	FavoriteBot string
}
