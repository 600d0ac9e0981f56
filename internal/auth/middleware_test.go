package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
)

func newProtectedRouter(am *AuthManager, limiter *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(am.Middleware(limiter))
	ok := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":     c.GetString(ctxUserID),
			"ctx_user_id": observability.GetUserID(c.Request.Context()),
		})
	}
	r.GET("/health", ok)
	r.GET("/api/v1/protected", ok)
	r.GET("/api/v1/collections", ok)
	r.GET("/api/v1/admin", am.RequireRole("admin"), ok)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestMiddleware(t *testing.T) {
	am, _, _ := newTestAuthManager(t, config.AuthConfig{RateLimit: 100})
	user := mustCreateUser(t, am, "henry")

	jwtToken, _, err := am.CreateJWTToken(user)
	require.NoError(t, err)
	apiKey, err := am.CreateAPIKey(user.ID, "test-key", 0, 24*time.Hour)
	require.NoError(t, err)
	sessionID, err := am.CreateSession(context.Background(), user.ID)
	require.NoError(t, err)

	router := newProtectedRouter(am, nil)

	tests := []struct {
		name         string
		path         string
		setup        func(*http.Request)
		expectedCode int
		expectUser   bool
	}{
		{
			name:         "bearer token",
			path:         "/api/v1/protected",
			setup:        func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+jwtToken) },
			expectedCode: http.StatusOK,
			expectUser:   true,
		},
		{
			name:         "API key header",
			path:         "/api/v1/protected",
			setup:        func(r *http.Request) { r.Header.Set("X-API-Key", apiKey.Key) },
			expectedCode: http.StatusOK,
			expectUser:   true,
		},
		{
			name:         "session cookie",
			path:         "/api/v1/protected",
			setup:        func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: sessionID}) },
			expectedCode: http.StatusOK,
			expectUser:   true,
		},
		{
			name: "bad token falls through to a good API key",
			path: "/api/v1/protected",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not.a.token")
				r.Header.Set("X-API-Key", apiKey.Key)
			},
			expectedCode: http.StatusOK,
			expectUser:   true,
		},
		{
			name:         "no credentials",
			path:         "/api/v1/protected",
			setup:        func(r *http.Request) {},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "invalid API key",
			path:         "/api/v1/protected",
			setup:        func(r *http.Request) { r.Header.Set("X-API-Key", apiKeyPrefix+"bogus") },
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "basic auth is not a bearer token",
			path:         "/api/v1/protected",
			setup:        func(r *http.Request) { r.Header.Set("Authorization", "Basic "+jwtToken) },
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "health skips authentication",
			path:         "/health",
			setup:        func(r *http.Request) {},
			expectedCode: http.StatusOK,
		},
		{
			name:         "anonymous access disabled",
			path:         "/api/v1/collections",
			setup:        func(r *http.Request) {},
			expectedCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.setup(req)
			w := serve(router, req)

			require.Equal(t, tt.expectedCode, w.Code, w.Body.String())
			if tt.expectedCode == http.StatusUnauthorized {
				assert.Equal(t, "NOT_AUTHENTICATED", errorCode(t, w))
			}
			if tt.expectUser {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, user.ID, body["user_id"])
				assert.Equal(t, user.ID, body["ctx_user_id"])
			}
		})
	}
}

func TestMiddleware_AnonymousAccess(t *testing.T) {
	am, _, _ := newTestAuthManager(t, config.AuthConfig{AllowAnonymous: true})
	router := newProtectedRouter(am, nil)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/collections", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	am, _, _ := newTestAuthManager(t, config.AuthConfig{})
	admin, err := am.GetUserByUsername("admin")
	require.NoError(t, err)
	plain := mustCreateUser(t, am, "ivy")
	router := newProtectedRouter(am, nil)

	tests := []struct {
		name         string
		user         *User
		expectedCode int
	}{
		{"admin allowed", admin, http.StatusOK},
		{"user forbidden", plain, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _, err := am.CreateJWTToken(tt.user)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := serve(router, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			if tt.expectedCode == http.StatusForbidden {
				assert.Equal(t, "INSUFFICIENT_PERMISSIONS", errorCode(t, w))
			}
		})
	}
}

func TestMiddleware_RateLimit(t *testing.T) {
	am, _, _ := newTestAuthManager(t, config.AuthConfig{RateLimit: 2})
	user := mustCreateUser(t, am, "jack")
	limiter := NewRateLimiter(time.Hour)
	t.Cleanup(limiter.Stop)
	router := newProtectedRouter(am, limiter)

	token, _, err := am.CreateJWTToken(user)
	require.NoError(t, err)

	request := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return serve(router, req)
	}

	assert.Equal(t, http.StatusOK, request().Code)
	assert.Equal(t, http.StatusOK, request().Code)

	w := request()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	t.Run("API key limit overrides default", func(t *testing.T) {
		key, err := am.CreateAPIKey(user.ID, "burst", 5, time.Hour)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/protected", nil)
			req.Header.Set("X-API-Key", key.Key)
			assert.Equal(t, http.StatusOK, serve(router, req).Code, "request %d", i)
		}
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := bearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}
