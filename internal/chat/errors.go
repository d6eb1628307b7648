package chat

import (
	"errors"
	"fmt"
	"time"

	"flowair/internal/ledger"
)

// ValidationError is a malformed request. It is returned before any credit
// or upstream is touched.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Msg)
}

// RateLimitError means the per-user hourly window is full. It is distinct
// from running out of credits.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded, try again later"
}

var (
	ErrCreditsExhausted = ledger.ErrCreditsExhausted
	ErrDuplicateRequest = errors.New("duplicate request")
)
