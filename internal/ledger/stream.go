package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"flowair/internal/storage"
)

type usageEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	BotID        string    `json:"bot_id"`
	PromptText   string    `json:"prompt_text"`
	ResponseText string    `json:"response_text"`
	TokensUsed   int       `json:"tokens_used"`
	CreatedAt    time.Time `json:"created_at"`
	Attempts     int       `json:"attempts"`
}

// UsageStream is a UsageLog backed by a redis stream. A consumer group
// drains it into SQL; see the worker package.
type UsageStream struct {
	redis    *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

type UsageMessage struct {
	ID       string
	Record   storage.UsageRecord
	Attempts int
	Err      error
}

func NewUsageStream(rdb *redis.Client, stream, group, consumer string, block time.Duration) *UsageStream {
	return &UsageStream{
		redis:    rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    block,
	}
}

var _ UsageLog = (*UsageStream)(nil)

func (s *UsageStream) EnsureGroup(ctx context.Context) error {
	err := s.redis.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create stream group: %w", err)
	}
	return nil
}

func (s *UsageStream) AppendUsage(ctx context.Context, r storage.UsageRecord) error {
	_, err := s.add(ctx, r, 0)
	return err
}

// Requeue appends the record again with a bumped attempt counter.
func (s *UsageStream) Requeue(ctx context.Context, m UsageMessage) error {
	_, err := s.add(ctx, m.Record, m.Attempts+1)
	return err
}

func (s *UsageStream) add(ctx context.Context, r storage.UsageRecord, attempts int) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(usageEntry{
		ID:           r.ID,
		UserID:       r.UserID,
		BotID:        r.BotID,
		PromptText:   r.PromptText,
		ResponseText: r.ResponseText,
		TokensUsed:   r.TokensUsed,
		CreatedAt:    r.CreatedAt,
		Attempts:     attempts,
	})
	if err != nil {
		return "", fmt.Errorf("marshal usage record: %w", err)
	}
	id, err := s.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd usage: %w", err)
	}
	return id, nil
}

// UsageMessage.Err is set when the entry could not be decoded; such
// messages carry no record and should be acked and dropped.
func (s *UsageStream) Read(ctx context.Context, count int64) ([]UsageMessage, error) {
	res, err := s.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    count,
		Block:    s.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	out := make([]UsageMessage, 0)
	for _, st := range res {
		out = append(out, decodeMessages(st.Messages)...)
	}
	return out, nil
}

// Reclaim takes over entries that were delivered to any consumer of the
// group but left unacked for at least minIdle, e.g. by a crashed worker.
func (s *UsageStream) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]UsageMessage, error) {
	msgs, _, err := s.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	return decodeMessages(msgs), nil
}

var errMalformedEntry = errors.New("malformed usage entry")

func decodeMessages(msgs []redis.XMessage) []UsageMessage {
	out := make([]UsageMessage, 0, len(msgs))
	for _, m := range msgs {
		var b []byte
		switch v := m.Values["payload"].(type) {
		case string:
			b = []byte(v)
		case []byte:
			b = v
		default:
			out = append(out, UsageMessage{ID: m.ID, Err: fmt.Errorf("%w: missing payload", errMalformedEntry)})
			continue
		}
		var e usageEntry
		if err := json.Unmarshal(b, &e); err != nil {
			out = append(out, UsageMessage{ID: m.ID, Err: fmt.Errorf("%w: %v", errMalformedEntry, err)})
			continue
		}
		out = append(out, UsageMessage{
			ID: m.ID,
			Record: storage.UsageRecord{
				ID:           e.ID,
				UserID:       e.UserID,
				BotID:        e.BotID,
				PromptText:   e.PromptText,
				ResponseText: e.ResponseText,
				TokensUsed:   e.TokensUsed,
				CreatedAt:    e.CreatedAt,
			},
			Attempts: e.Attempts,
		})
	}
	return out
}

func (s *UsageStream) Ack(ctx context.Context, messageID string) error {
	if err := s.redis.XAck(ctx, s.stream, s.group, messageID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := s.redis.XDel(ctx, s.stream, messageID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (s *UsageStream) Consumer() string {
	return s.consumer
}
