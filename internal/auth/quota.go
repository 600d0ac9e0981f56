package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "github.com/seanankenbruck/mongo-query-bot/internal/errors"
)

const quotaPrefix = "quota:"

// Usage is a user's model token usage for the current UTC day.
type Usage struct {
	UserID    string    `json:"user_id"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// TokenQuota caps the model tokens a user may spend per UTC day. Counters
// live in Redis so every replica sees the same totals.
type TokenQuota struct {
	redis *redis.Client
	limit int64
	now   func() time.Time
}

// NewTokenQuota creates a quota of dailyLimit tokens. Zero disables it.
func NewTokenQuota(redisClient *redis.Client, dailyLimit int64) *TokenQuota {
	return &TokenQuota{redis: redisClient, limit: dailyLimit, now: time.Now}
}

// Enabled reports whether a daily limit is configured.
func (q *TokenQuota) Enabled() bool {
	return q != nil && q.limit > 0
}

// Check returns a QUOTA_EXCEEDED error once today's usage reaches the limit.
// A request that starts under the limit may finish over it.
func (q *TokenQuota) Check(ctx context.Context, userID string) error {
	if !q.Enabled() {
		return nil
	}
	used, err := q.used(ctx, userID)
	if err != nil {
		return err
	}
	if used >= q.limit {
		return apperrors.NewQuotaExceededError(used, q.limit)
	}
	return nil
}

// Record adds tokens to today's counter and returns the new total.
func (q *TokenQuota) Record(ctx context.Context, userID string, tokens int) (int64, error) {
	if !q.Enabled() || tokens <= 0 {
		return 0, nil
	}
	key := q.key(userID)

	var incr *redis.IntCmd
	_, err := q.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, key, int64(tokens))
		// keep a day of slack past midnight for late readers
		pipe.ExpireAt(ctx, key, q.resetsAt().Add(24*time.Hour))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record token usage: %w", err)
	}
	return incr.Val(), nil
}

// Usage reports today's usage for userID.
func (q *TokenQuota) Usage(ctx context.Context, userID string) (*Usage, error) {
	usage := &Usage{UserID: userID, Limit: q.limit, ResetsAt: q.resetsAt()}
	if !q.Enabled() {
		return usage, nil
	}
	used, err := q.used(ctx, userID)
	if err != nil {
		return nil, err
	}
	usage.Used = used
	if remaining := q.limit - used; remaining > 0 {
		usage.Remaining = remaining
	}
	return usage, nil
}

func (q *TokenQuota) used(ctx context.Context, userID string) (int64, error) {
	used, err := q.redis.Get(ctx, q.key(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read token usage: %w", err)
	}
	return used, nil
}

func (q *TokenQuota) key(userID string) string {
	return quotaPrefix + userID + ":" + q.now().UTC().Format("2006-01-02")
}

func (q *TokenQuota) resetsAt() time.Time {
	now := q.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
