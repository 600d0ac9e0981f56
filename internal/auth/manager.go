package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/session"
)

const (
	tokenIssuer  = "mongo-query-bot"
	apiKeyPrefix = "mqb_"

	// AdminUserID is fixed so tokens stay valid across replicas.
	AdminUserID = "00000000-0000-0000-0000-000000000001"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrUserInactive       = errors.New("user is inactive")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrAPIKeyNotFound     = errors.New("API key not found")
)

// User represents a user in the system
type User struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Roles        []string          `json:"roles"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"created_at"`
}

// HasRole reports whether the user holds any of roles.
func (u *User) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// APIKey represents an API key for authentication
type APIKey struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key,omitempty"` // plaintext, only set on creation
	HashedKey  string    `json:"-"`
	UserID     string    `json:"user_id"`
	RateLimit  int       `json:"rate_limit"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	Active     bool      `json:"active"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// AuthManager handles authentication and user management
type AuthManager struct {
	config         config.AuthConfig
	users          map[string]*User   // userID -> User
	userByUsername map[string]*User   // username -> User
	apiKeys        map[string]*APIKey // hashedKey -> APIKey
	sessions       *session.Manager
	logger         *observability.Logger
	mu             sync.RWMutex
}

// NewAuthManager creates an auth manager. The admin account is seeded only
// when cfg.AdminPassword is set.
func NewAuthManager(cfg config.AuthConfig, sessions *session.Manager, logger *observability.Logger) (*AuthManager, error) {
	if cfg.JWTExpiry == 0 {
		cfg.JWTExpiry = 24 * time.Hour
	}
	if cfg.SessionExpiry == 0 {
		cfg.SessionExpiry = 7 * 24 * time.Hour
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.JWTSecret == "" {
		secret, err := randomHex(32)
		if err != nil {
			return nil, err
		}
		cfg.JWTSecret = secret
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	am := &AuthManager{
		config:         cfg,
		users:          make(map[string]*User),
		userByUsername: make(map[string]*User),
		apiKeys:        make(map[string]*APIKey),
		sessions:       sessions,
		logger:         logger,
	}

	if cfg.AdminPassword != "" {
		if _, err := am.addUser(AdminUserID, "admin", "admin@localhost", cfg.AdminPassword, []string{"admin", "user"}); err != nil {
			return nil, fmt.Errorf("failed to seed admin user: %w", err)
		}
		logger.Info(context.Background(), "Seeded admin user", map[string]interface{}{"user_id": AdminUserID})
	}
	return am, nil
}

// Config returns the effective configuration after defaults.
func (am *AuthManager) Config() config.AuthConfig {
	return am.config
}

// CreateUser creates a user with a bcrypt-hashed password.
func (am *AuthManager) CreateUser(username, email, password string, roles []string) (*User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	return am.addUser(uuid.New().String(), username, email, password, roles)
}

func (am *AuthManager) addUser(id, username, email, password string, roles []string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	if _, exists := am.userByUsername[username]; exists {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	user := &User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Roles:        roles,
		Metadata:     make(map[string]string),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	am.users[user.ID] = user
	am.userByUsername[username] = user
	return user, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords return the same error.
func (am *AuthManager) Authenticate(username, password string) (*User, error) {
	am.mu.RLock()
	user, exists := am.userByUsername[username]
	am.mu.RUnlock()

	if !exists || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrUserInactive
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (am *AuthManager) GetUser(userID string) (*User, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	user, exists := am.users[userID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (am *AuthManager) GetUserByUsername(username string) (*User, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	user, exists := am.userByUsername[username]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return user, nil
}

// SetUserActive enables or disables a user. Disabled users fail every
// authentication method immediately.
func (am *AuthManager) SetUserActive(userID string, active bool) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	user, exists := am.users[userID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	user.Active = active
	return nil
}

// ListUsers returns all users ordered by username.
func (am *AuthManager) ListUsers() []*User {
	am.mu.RLock()
	defer am.mu.RUnlock()

	users := make([]*User, 0, len(am.users))
	for _, user := range am.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// CreateAPIKey creates a new API key for a user. A zero rateLimit uses the
// configured default.
func (am *AuthManager) CreateAPIKey(userID, name string, rateLimit int, expiresIn time.Duration) (*APIKey, error) {
	secret, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	key := apiKeyPrefix + secret
	if rateLimit <= 0 {
		rateLimit = am.config.RateLimit
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	if _, exists := am.users[userID]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	now := time.Now().UTC()
	apiKey := &APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		Key:       key,
		HashedKey: hashAPIKey(key),
		UserID:    userID,
		RateLimit: rateLimit,
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
		Active:    true,
	}
	am.apiKeys[apiKey.HashedKey] = apiKey

	created := *apiKey
	return &created, nil
}

// ValidateAPIKey validates an API key and returns the associated user
func (am *AuthManager) ValidateAPIKey(key string) (*User, *APIKey, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	apiKey, exists := am.apiKeys[hashAPIKey(key)]
	if !exists || !apiKey.Active {
		return nil, nil, ErrInvalidAPIKey
	}
	if time.Now().After(apiKey.ExpiresAt) {
		return nil, nil, fmt.Errorf("%w: expired", ErrInvalidAPIKey)
	}

	user, exists := am.users[apiKey.UserID]
	if !exists {
		return nil, nil, ErrUserNotFound
	}
	if !user.Active {
		return nil, nil, ErrUserInactive
	}

	apiKey.LastUsedAt = time.Now().UTC()
	return user, apiKey, nil
}

// ListAPIKeys returns a user's keys without their plaintext.
func (am *AuthManager) ListAPIKeys(userID string) []*APIKey {
	am.mu.RLock()
	defer am.mu.RUnlock()

	keys := make([]*APIKey, 0)
	for _, apiKey := range am.apiKeys {
		if apiKey.UserID == userID {
			keyCopy := *apiKey
			keyCopy.Key = ""
			keys = append(keys, &keyCopy)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys
}

// RevokeAPIKey deactivates one of userID's keys. Admins may pass an empty
// userID to revoke any key.
func (am *AuthManager) RevokeAPIKey(userID, keyID string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	for _, apiKey := range am.apiKeys {
		if apiKey.ID == keyID && (userID == "" || apiKey.UserID == userID) {
			apiKey.Active = false
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAPIKeyNotFound, keyID)
}

// CleanupExpired drops expired API keys. Sessions expire through Redis TTLs.
func (am *AuthManager) CleanupExpired() int {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	removed := 0
	for hash, apiKey := range am.apiKeys {
		if now.After(apiKey.ExpiresAt) {
			delete(am.apiKeys, hash)
			removed++
		}
	}
	return removed
}

// CreateJWTToken signs a token for user valid for the configured expiry.
func (am *AuthManager) CreateJWTToken(user *User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(am.config.JWTExpiry)

	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   user.ID,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(am.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// ValidateJWTToken parses a token and checks its user is still active.
func (am *AuthManager) ValidateJWTToken(tokenString string) (*User, *Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(am.config.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, nil, fmt.Errorf("invalid token")
	}

	user, err := am.activeUser(claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

// CreateSession stores a Redis session holding a fresh token for userID.
func (am *AuthManager) CreateSession(ctx context.Context, userID string) (string, error) {
	if am.sessions == nil {
		return "", fmt.Errorf("sessions are not configured")
	}
	user, err := am.activeUser(userID)
	if err != nil {
		return "", err
	}

	token, _, err := am.CreateJWTToken(user)
	if err != nil {
		return "", err
	}

	sessionID, err := am.sessions.Create(ctx, user.ID, user.Username, token, user.Roles)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

// ValidateSession resolves a session cookie to its user and slides its expiry.
func (am *AuthManager) ValidateSession(ctx context.Context, sessionID string) (*User, error) {
	if am.sessions == nil {
		return nil, session.ErrNotFound
	}
	sess, err := am.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	user, err := am.activeUser(sess.UserID)
	if err != nil {
		return nil, err
	}

	if err := am.sessions.Refresh(ctx, sessionID); err != nil {
		am.logger.Warn(ctx, "Failed to refresh session", map[string]interface{}{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}
	return user, nil
}

// RevokeSession deletes a session.
func (am *AuthManager) RevokeSession(ctx context.Context, sessionID string) error {
	if am.sessions == nil {
		return nil
	}
	return am.sessions.Delete(ctx, sessionID)
}

func (am *AuthManager) activeUser(userID string) (*User, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	user, exists := am.users[userID]
	if !exists {
		return nil, ErrUserNotFound
	}
	if !user.Active {
		return nil, ErrUserInactive
	}
	return user, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
