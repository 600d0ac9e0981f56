package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const historyPrefix = "history:"

// Entry is one answered (or failed) question.
type Entry struct {
	Question    string    `json:"question"`
	QueryText   string    `json:"query_text,omitempty"`
	Verb        string    `json:"verb,omitempty"`
	Collection  string    `json:"collection,omitempty"`
	ResultCount int       `json:"result_count"`
	Summary     string    `json:"summary,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// History keeps the most recent questions per user, newest first.
type History struct {
	redis  *redis.Client
	maxLen int64
	ttl    time.Duration
}

// NewHistory creates a history store capped at maxLen entries per user.
func NewHistory(redisClient *redis.Client, maxLen int, ttl time.Duration) *History {
	if maxLen <= 0 {
		maxLen = 50
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &History{redis: redisClient, maxLen: int64(maxLen), ttl: ttl}
}

// Append records an entry and drops the oldest beyond the cap.
func (h *History) Append(ctx context.Context, userID string, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	key := historyPrefix + userID
	_, err = h.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, h.maxLen-1)
		pipe.Expire(ctx, key, h.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. A limit of 0 means all.
func (h *History) List(ctx context.Context, userID string, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := h.redis.LRange(ctx, historyPrefix+userID, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear deletes a user's history.
func (h *History) Clear(ctx context.Context, userID string) error {
	return h.redis.Del(ctx, historyPrefix+userID).Err()
}
