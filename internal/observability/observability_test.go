package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestLogger_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("processor").WithOutput(&buf)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithUserID(ctx, "user-9")
	logger.Info(ctx, "question answered", map[string]interface{}{"verb": "find", "count": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "question answered", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "processor", entry["component"])
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.Equal(t, "user-9", entry["user_id"])
	assert.Equal(t, "find", entry["verb"])
	assert.EqualValues(t, 3, entry["count"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test").WithOutput(&buf).WithLevel(LevelWarn)

	logger.Debug(context.Background(), "hidden", nil)
	logger.Info(context.Background(), "hidden", nil)
	assert.Zero(t, buf.Len())

	logger.Error(context.Background(), "boom", errors.New("bad"), nil)
	assert.Contains(t, buf.String(), `"error":"bad"`)
}

func TestLogger_WithOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test").WithOutput(&buf)

	err := logger.WithOperation(context.Background(), "discovery", func(ctx context.Context) error {
		assert.NotEmpty(t, GetCorrelationID(ctx))
		return errors.New("mongo down")
	})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Operation failed: discovery")
}

func TestMetricsCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)

	mc.RecordQuery("find", 150*time.Millisecond, true, false, "")
	mc.RecordQuery("find", 10*time.Millisecond, true, true, "")
	mc.RecordQuery("aggregate", time.Second, false, false, "INVALID_QUERY_SHAPE")
	mc.RecordLLM("gemini", "generate", time.Second, 420, nil)
	mc.RecordLLM("gemini", "generate", time.Second, 0, errors.New("timeout"))
	mc.RecordSanitize("ok")
	mc.RecordDiscovery(time.Second, 3, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(mc.queries.WithLabelValues("find", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.queries.WithLabelValues("aggregate", "failure", "INVALID_QUERY_SHAPE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.cache.WithLabelValues("miss")))
	assert.Equal(t, 420.0, testutil.ToFloat64(mc.llmTokens.WithLabelValues("gemini", "generate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.llmErrors.WithLabelValues("gemini", "generate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.sanitize.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(mc.discoveryCollections))
}

func TestMetricsHandler_ServesPrometheusText(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)
	mc.RecordHTTP("GET", "/health", 200, time.Millisecond)

	router := gin.New()
	router.GET("/metrics", MetricsHandler(mc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MetricHTTPRequests)
}

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("query-bot", "test")
	hc.Register("mongodb", MongoHealthCheck(func(context.Context) error { return nil }))
	hc.Register("llm_service", LLMHealthCheck(func(context.Context) error { return errors.New("circuit open") }))

	resp := hc.GetHealthResponse(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Status)
	assert.Equal(t, HealthStatusHealthy, resp.Checks["mongodb"].Status)
	assert.Equal(t, HealthStatusDegraded, resp.Checks["llm_service"].Status)
	assert.Equal(t, "query-bot", resp.Metadata["service"])

	hc.Register("postgres", PingHealthCheck("postgres", true, time.Second, func(context.Context) error { return errors.New("down") }))
	assert.Equal(t, HealthStatusUnhealthy, OverallStatus(hc.Check(context.Background())))
}

func TestHealthHandler_StatusCodes(t *testing.T) {
	hc := NewHealthChecker("query-bot", "test")
	hc.Register("mongodb", MongoHealthCheck(func(context.Context) error { return errors.New("refused") }))

	router := gin.New()
	router.GET("/health", HealthHandler(hc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("http").WithOutput(&buf)
	mc := NewMetricsCollector(prometheus.NewRegistry())

	router := gin.New()
	router.Use(RequestLoggingMiddleware(logger, mc))
	router.GET("/ping", func(c *gin.Context) {
		assert.Equal(t, "req-42", GetCorrelationID(c.Request.Context()))
		c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.True(t, strings.Contains(buf.String(), "Request served"))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.httpRequests.WithLabelValues("GET", "/ping", "200")))
}

func TestRecoveryMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RecoveryMiddleware(NewNopLogger()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL")
}

func TestCORSWithLogging_Preflight(t *testing.T) {
	router := gin.New()
	router.Use(CORSWithLogging(NewNopLogger()))
	router.POST("/api/v1/query", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), RequestIDHeader)
}

func TestRequestLoggingMiddleware_GeneratesID(t *testing.T) {
	router := gin.New()
	router.Use(RequestLoggingMiddleware(NewNopLogger(), nil))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("query-bot").WithOutput(&buf).WithComponent("discovery")
	logger.Info(context.Background(), "cycle", nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "discovery", entry["component"])

	NewNopLogger().WithComponent("x").Info(context.Background(), "dropped", nil)
}
