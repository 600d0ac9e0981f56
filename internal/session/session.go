package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionPrefix = "session:"
	sessionIDLen  = 32
)

var (
	// ErrNotFound means the session does not exist or Redis already expired it.
	ErrNotFound = errors.New("session not found")
	// ErrExpired means the stored session is past its expiry time.
	ErrExpired = errors.New("session expired")
)

// Session is a logged-in browser or CLI user.
type Session struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Roles      []string  `json:"roles"`
	Token      string    `json:"token"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Manager keeps sessions in Redis under session:<id> with a TTL equal to
// the sliding expiry.
type Manager struct {
	redis  *redis.Client
	expiry time.Duration
	now    func() time.Time
}

// NewManager creates a session manager. Sessions live for expiry after
// their last refresh.
func NewManager(redisClient *redis.Client, expiry time.Duration) *Manager {
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &Manager{redis: redisClient, expiry: expiry, now: time.Now}
}

// Create stores a new session and returns its ID.
func (m *Manager) Create(ctx context.Context, userID, username, token string, roles []string) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now()
	s := &Session{
		UserID:     userID,
		Username:   username,
		Roles:      roles,
		Token:      token,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := m.put(ctx, id, s); err != nil {
		return "", err
	}
	return id, nil
}

// Get loads a session. Sessions past their deadline are removed and
// reported as ErrExpired.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	data, err := m.redis.Get(ctx, key(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if m.now().After(s.ExpiresAt) {
		_ = m.Delete(ctx, id)
		return nil, ErrExpired
	}
	return &s, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.redis.Del(ctx, key(id)).Err()
}

// Refresh slides the session's deadline forward from now.
func (m *Manager) Refresh(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	s.LastSeenAt = m.now()
	return m.put(ctx, id, s)
}

// Ping checks the Redis connection.
func (m *Manager) Ping(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}

func (m *Manager) put(ctx context.Context, id string, s *Session) error {
	s.ExpiresAt = s.LastSeenAt.Add(m.expiry)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := m.redis.Set(ctx, key(id), data, m.expiry).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func key(id string) string {
	return sessionPrefix + id
}

func newSessionID() (string, error) {
	b := make([]byte, sessionIDLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
