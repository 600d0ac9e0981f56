package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation ID in both directions.
const RequestIDHeader = "X-Request-ID"

var (
	corsAllowMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
	}, ", ")
	corsAllowHeaders = strings.Join([]string{
		"Authorization", "Content-Type", "X-API-Key", RequestIDHeader,
	}, ", ")
)

// RequestLoggingMiddleware tags each request with a correlation ID, logs its
// outcome and records it in metrics. metrics may be nil.
func RequestLoggingMiddleware(logger *Logger, metrics *MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := requestCorrelationID(c)

		ctx := WithCorrelationID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()

		// set by the auth middleware further down the chain
		if userID := c.GetString("user_id"); userID != "" {
			ctx = WithUserID(ctx, userID)
		}

		fields := map[string]interface{}{
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"route":         routeLabel(c),
			"status":        status,
			"duration_ms":   elapsed.Milliseconds(),
			"response_size": c.Writer.Size(),
			"ip":            c.ClientIP(),
		}

		switch {
		case len(c.Errors) > 0:
			fields["errors"] = c.Errors.String()
			logger.Error(ctx, "Request failed", c.Errors.Last().Err, fields)
		case status >= http.StatusInternalServerError:
			logger.Error(ctx, "Request failed", nil, fields)
		case status >= http.StatusBadRequest:
			logger.Warn(ctx, "Request rejected", fields)
		default:
			logger.Info(ctx, "Request served", fields)
		}

		if metrics != nil {
			metrics.RecordHTTP(c.Request.Method, routeLabel(c), status, elapsed)
		}
	}
}

func requestCorrelationID(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("correlation_id", id)
	c.Header(RequestIDHeader, id)
	return id
}

// routeLabel keeps metric cardinality bounded by using the route pattern.
func routeLabel(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}

// RecoveryMiddleware turns a handler panic into a 500 with the standard
// error body.
func RecoveryMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error(c.Request.Context(), "Handler panicked", nil, map[string]interface{}{
				"panic":  r,
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
			})
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"code": "INTERNAL", "message": "An unexpected error occurred"},
			})
		}()
		c.Next()
	}
}

// HealthHandler answers 503 only when a critical dependency is down.
func HealthHandler(checker *HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := checker.GetHealthResponse(c.Request.Context())
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}

// MetricsHandler exposes the collector in the Prometheus text format.
func MetricsHandler(collector *MetricsCollector) gin.HandlerFunc {
	return gin.WrapH(collector.Handler())
}

// CORSWithLogging allows any origin and short-circuits preflight requests.
func CORSWithLogging(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if origin := c.GetHeader("Origin"); origin != "" {
			logger.Debug(c.Request.Context(), "CORS preflight", map[string]interface{}{
				"origin": origin,
				"method": c.GetHeader("Access-Control-Request-Method"),
			})
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
