package auth

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/seanankenbruck/mongo-query-bot/internal/errors"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
)

const (
	ctxUser   = "user"
	ctxUserID = "user_id"
	ctxAPIKey = "api_key"

	// SessionCookie carries the session ID set at login.
	SessionCookie = "session_id"
)

var errNoCredentials = errors.New("no credentials")

// Middleware authenticates each request by bearer token, X-API-Key header
// or session cookie, in that order, then applies the caller's rate limit.
// A nil limiter disables rate limiting.
func (am *AuthManager) Middleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if shouldSkipAuth(path) {
			c.Next()
			return
		}

		user, apiKey, err := am.authenticateRequest(c)
		if err != nil {
			if !(am.config.AllowAnonymous && isPublicEndpoint(path)) {
				abortWithError(c, apperrors.NewNotAuthenticatedError())
				return
			}
		}

		if limiter != nil {
			limit := am.config.RateLimit
			if apiKey != nil && apiKey.RateLimit > 0 {
				limit = apiKey.RateLimit
			}
			if ok, retryAfter := limiter.Allow(clientID(c, user, apiKey), limit); !ok {
				secs := int(math.Ceil(retryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				c.Header("Retry-After", strconv.Itoa(secs))
				abortWithError(c, apperrors.NewRateLimitedError(secs))
				return
			}
		}

		if user != nil {
			c.Set(ctxUser, user)
			c.Set(ctxUserID, user.ID)
			if apiKey != nil {
				c.Set(ctxAPIKey, apiKey)
			}
			c.Request = c.Request.WithContext(observability.WithUserID(c.Request.Context(), user.ID))
		}
		c.Next()
	}
}

// RequireRole rejects callers holding none of roles.
func (am *AuthManager) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := GetCurrentUser(c)
		if !ok {
			abortWithError(c, apperrors.NewNotAuthenticatedError())
			return
		}
		if !user.HasRole(roles...) {
			abortWithError(c, apperrors.NewInsufficientPermissionsError(roles...))
			return
		}
		c.Next()
	}
}

func (am *AuthManager) authenticateRequest(c *gin.Context) (*User, *APIKey, error) {
	ctx := c.Request.Context()

	if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
		user, _, err := am.ValidateJWTToken(token)
		observability.RecordAuthMetrics("jwt", err == nil)
		if err == nil {
			return user, nil, nil
		}
		am.logAuthFailure(ctx, "jwt", err)
	}

	if key := c.GetHeader("X-API-Key"); key != "" {
		user, apiKey, err := am.ValidateAPIKey(key)
		observability.RecordAuthMetrics("api_key", err == nil)
		if err == nil {
			return user, apiKey, nil
		}
		am.logAuthFailure(ctx, "api_key", err)
	}

	if sessionID, err := c.Cookie(SessionCookie); err == nil && sessionID != "" {
		user, err := am.ValidateSession(ctx, sessionID)
		observability.RecordAuthMetrics("session", err == nil)
		if err == nil {
			return user, nil, nil
		}
		am.logAuthFailure(ctx, "session", err)
	}

	return nil, nil, errNoCredentials
}

func (am *AuthManager) logAuthFailure(ctx context.Context, method string, err error) {
	am.logger.Debug(ctx, "Authentication failed", map[string]interface{}{
		"method": method,
		"error":  err.Error(),
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func shouldSkipAuth(path string) bool {
	switch path {
	case "/health", "/metrics", "/api/v1/health", "/api/v1/auth/login", "/api/v1/auth/status":
		return true
	}
	return false
}

// isPublicEndpoint lists the read-only endpoints open to anonymous callers
// when AllowAnonymous is set.
func isPublicEndpoint(path string) bool {
	switch path {
	case "/api/v1/collections", "/api/v1/sanitize", "/api/v1/samples":
		return true
	}
	return false
}

func clientID(c *gin.Context, user *User, apiKey *APIKey) string {
	switch {
	case apiKey != nil:
		return "key:" + apiKey.ID
	case user != nil:
		return "user:" + user.ID
	default:
		return "ip:" + c.ClientIP()
	}
}

func abortWithError(c *gin.Context, err error) {
	status, body := apperrors.Response(err)
	c.AbortWithStatusJSON(status, body)
}

// GetCurrentUser returns the authenticated user, if any.
func GetCurrentUser(c *gin.Context) (*User, bool) {
	value, exists := c.Get(ctxUser)
	if !exists {
		return nil, false
	}
	user, ok := value.(*User)
	return user, ok
}

// GetCurrentUserID returns the authenticated user's ID, if any.
func GetCurrentUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ctxUserID)
	return id, id != ""
}

// GetCurrentAPIKey returns the API key used on this request, if any.
func GetCurrentAPIKey(c *gin.Context) (*APIKey, bool) {
	value, exists := c.Get(ctxAPIKey)
	if !exists {
		return nil, false
	}
	key, ok := value.(*APIKey)
	return key, ok
}
