package auth

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	"github.com/seanankenbruck/mongo-query-bot/internal/session"
)

const (
	testSecret        = "test-secret-with-at-least-32-characters!"
	testAdminPassword = "admin-password"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestAuthManager backs sessions with miniredis and seeds the admin user.
func newTestAuthManager(t *testing.T, cfg config.AuthConfig) (*AuthManager, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	if cfg.SessionExpiry == 0 {
		cfg.SessionExpiry = time.Hour
	}
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = testAdminPassword
	}

	am, err := NewAuthManager(cfg, session.NewManager(rdb, cfg.SessionExpiry), nil)
	require.NoError(t, err)
	return am, mr, rdb
}

func mustCreateUser(t *testing.T, am *AuthManager, username string, roles ...string) *User {
	t.Helper()
	user, err := am.CreateUser(username, username+"@example.com", username+"-password", roles)
	require.NoError(t, err)
	return user
}
