package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/seanankenbruck/mongo-query-bot/internal/errors"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
)

// AuthHandlers provides HTTP handlers for authentication endpoints
type AuthHandlers struct {
	authManager *AuthManager
	limiter     *RateLimiter
	quota       *TokenQuota
}

// NewAuthHandlers creates auth handlers. limiter and quota may be nil.
func NewAuthHandlers(authManager *AuthManager, limiter *RateLimiter, quota *TokenQuota) *AuthHandlers {
	return &AuthHandlers{authManager: authManager, limiter: limiter, quota: quota}
}

// SetupRoutes registers the auth routes on r. The caller installs
// AuthManager.Middleware on r first.
func (ah *AuthHandlers) SetupRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", ah.Login)
	r.POST("/auth/logout", ah.Logout)
	r.POST("/auth/refresh", ah.Refresh)
	r.GET("/auth/me", ah.GetCurrentUser)
	r.GET("/auth/status", ah.GetAuthStatus)
	r.GET("/auth/usage", ah.GetUsage)

	r.GET("/api-keys", ah.ListAPIKeys)
	r.POST("/api-keys", ah.CreateAPIKey)
	r.DELETE("/api-keys/:id", ah.RevokeAPIKey)

	admin := r.Group("/admin", ah.authManager.RequireRole("admin"))
	{
		admin.GET("/users", ah.ListUsers)
		admin.POST("/users", ah.CreateUser)
		admin.PATCH("/users/:id", ah.UpdateUser)
		admin.GET("/rate-limit-stats", ah.GetRateLimitStats)
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Login checks credentials, returns a bearer token and sets a session cookie.
func (ah *AuthHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewInvalidInputError("body", err.Error()))
		return
	}

	user, err := ah.authManager.Authenticate(req.Username, req.Password)
	observability.RecordAuthMetrics("password", err == nil)
	if err != nil {
		respondError(c, apperrors.NewInvalidCredentialsError())
		return
	}

	token, expiresAt, err := ah.authManager.CreateJWTToken(user)
	if err != nil {
		respondError(c, apperrors.NewTokenCreationError(err))
		return
	}

	sessionID, err := ah.authManager.CreateSession(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, apperrors.NewTokenCreationError(err))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, sessionID, int(ah.authManager.config.SessionExpiry.Seconds()), "/", "", c.Request.TLS != nil, true)

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// Logout deletes the session behind the cookie and clears it.
func (ah *AuthHandlers) Logout(c *gin.Context) {
	if sessionID, err := c.Cookie(SessionCookie); err == nil && sessionID != "" {
		if err := ah.authManager.RevokeSession(c.Request.Context(), sessionID); err != nil {
			ah.authManager.logger.Warn(c.Request.Context(), "Failed to revoke session", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	c.SetCookie(SessionCookie, "", -1, "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

// Refresh issues a new bearer token for the authenticated caller.
func (ah *AuthHandlers) Refresh(c *gin.Context) {
	user, ok := GetCurrentUser(c)
	if !ok {
		respondError(c, apperrors.NewNotAuthenticatedError())
		return
	}

	token, expiresAt, err := ah.authManager.CreateJWTToken(user)
	if err != nil {
		respondError(c, apperrors.NewTokenCreationError(err))
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// GetCurrentUser returns the current authenticated user
func (ah *AuthHandlers) GetCurrentUser(c *gin.Context) {
	user, ok := GetCurrentUser(c)
	if !ok {
		respondError(c, apperrors.NewNotAuthenticatedError())
		return
	}
	if key, ok := GetCurrentAPIKey(c); ok {
		c.Header("X-API-Key-ID", key.ID)
	}
	c.JSON(http.StatusOK, user)
}

// GetAuthStatus reports auth settings and whether the caller is signed in.
// The route skips the middleware, so credentials are checked here.
func (ah *AuthHandlers) GetAuthStatus(c *gin.Context) {
	cfg := ah.authManager.config
	status := gin.H{
		"authentication_enabled": true,
		"allow_anonymous":        cfg.AllowAnonymous,
		"rate_limit":             cfg.RateLimit,
		"daily_token_cap":        cfg.DailyTokenCap,
		"jwt_expiry":             cfg.JWTExpiry.String(),
		"session_expiry":         cfg.SessionExpiry.String(),
		"authenticated":          false,
	}

	if user, _, err := ah.authManager.authenticateRequest(c); err == nil {
		status["authenticated"] = true
		status["user"] = user
	}
	c.JSON(http.StatusOK, status)
}

// GetUsage returns today's model token usage for the caller.
func (ah *AuthHandlers) GetUsage(c *gin.Context) {
	userID, ok := GetCurrentUserID(c)
	if !ok {
		respondError(c, apperrors.NewNotAuthenticatedError())
		return
	}
	if ah.quota == nil {
		c.JSON(http.StatusOK, &Usage{UserID: userID})
		return
	}

	usage, err := ah.quota.Usage(c.Request.Context(), userID)
	if err != nil {
		respondError(c, apperrors.NewDatabaseQueryError(err, "read token usage"))
		return
	}
	c.JSON(http.StatusOK, usage)
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Name      string `json:"name" binding:"required"`
	RateLimit int    `json:"rate_limit"`
	ExpiresIn string `json:"expires_in"` // e.g. "30d", "2w", "1y", "720h"
}

// CreateAPIKey creates a new API key for the current user. The plaintext
// key is only ever returned here.
func (ah *AuthHandlers) CreateAPIKey(c *gin.Context) {
	userID, ok := GetCurrentUserID(c)
	if !ok {
		respondError(c, apperrors.NewNotAuthenticatedError())
		return
	}

	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewInvalidInputError("body", err.Error()))
		return
	}
	if req.RateLimit < 0 {
		respondError(c, apperrors.NewInvalidInputError("rate_limit", "must not be negative"))
		return
	}

	expiresIn, err := parseDuration(req.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		respondError(c, apperrors.NewInvalidInputError("expires_in", "expected a positive duration such as 30d, 2w, 1y or 720h"))
		return
	}

	apiKey, err := ah.authManager.CreateAPIKey(userID, req.Name, req.RateLimit, expiresIn)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, apiKey)
}

// ListAPIKeys returns all API keys for the current user
func (ah *AuthHandlers) ListAPIKeys(c *gin.Context) {
	userID, ok := GetCurrentUserID(c)
	if !ok {
		respondError(c, apperrors.NewNotAuthenticatedError())
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": ah.authManager.ListAPIKeys(userID)})
}

// RevokeAPIKey revokes one of the caller's keys. Admins may revoke any key.
func (ah *AuthHandlers) RevokeAPIKey(c *gin.Context) {
	user, ok := GetCurrentUser(c)
	if !ok {
		respondError(c, apperrors.NewNotAuthenticatedError())
		return
	}

	owner := user.ID
	if user.HasRole("admin") {
		owner = ""
	}
	if err := ah.authManager.RevokeAPIKey(owner, c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key revoked successfully"})
}

// CreateUserRequest represents a request to create a user
type CreateUserRequest struct {
	Username string   `json:"username" binding:"required"`
	Email    string   `json:"email"`
	Password string   `json:"password" binding:"required,min=8"`
	Roles    []string `json:"roles"`
}

// CreateUser creates a new user (admin only)
func (ah *AuthHandlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewInvalidInputError("body", err.Error()))
		return
	}

	user, err := ah.authManager.CreateUser(req.Username, req.Email, req.Password, req.Roles)
	if errors.Is(err, ErrUserExists) {
		c.JSON(http.StatusConflict, gin.H{"error": gin.H{"code": "CONFLICT", "message": err.Error()}})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// UpdateUserRequest toggles a user's active flag.
type UpdateUserRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// UpdateUser enables or disables a user (admin only)
func (ah *AuthHandlers) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewInvalidInputError("active", "required boolean"))
		return
	}

	id := c.Param("id")
	if err := ah.authManager.SetUserActive(id, *req.Active); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": err.Error()}})
		return
	}
	user, _ := ah.authManager.GetUser(id)
	c.JSON(http.StatusOK, user)
}

// ListUsers returns all users (admin only)
func (ah *AuthHandlers) ListUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": ah.authManager.ListUsers()})
}

// GetRateLimitStats returns rate limiting statistics (admin only)
func (ah *AuthHandlers) GetRateLimitStats(c *gin.Context) {
	if ah.limiter == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	stats := ah.limiter.Stats()
	stats["enabled"] = true
	c.JSON(http.StatusOK, stats)
}

func respondError(c *gin.Context, err error) {
	status, body := apperrors.Response(err)
	c.JSON(status, body)
}

// parseDuration parses durations like "30d", "2w", "1y" and anything
// time.ParseDuration accepts. Empty means 30 days.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 30 * 24 * time.Hour, nil
	}

	units := map[string]time.Duration{
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
		"y": 365 * 24 * time.Hour,
	}
	for suffix, unit := range units {
		if strings.HasSuffix(s, suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
			if err != nil {
				return 0, err
			}
			return time.Duration(n) * unit, nil
		}
	}
	return time.ParseDuration(s)
}
