package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Standard metric names
const (
	// Question metrics
	MetricQueryTotal           = "query_bot_questions_total"
	MetricQueryDuration        = "query_bot_question_duration_seconds"
	MetricQueryCache           = "query_bot_cache_requests_total"
	MetricQuerySafetyViolation = "query_bot_safety_violations_total"
	MetricSanitizeTotal        = "query_bot_sanitize_total"

	// LLM metrics
	MetricLLMRequests = "llm_requests_total"
	MetricLLMDuration = "llm_request_duration_seconds"
	MetricLLMTokens   = "llm_tokens_total"
	MetricLLMErrors   = "llm_errors_total"

	// Database metrics
	MetricDBQueries  = "database_queries_total"
	MetricDBDuration = "database_query_duration_seconds"
	MetricDBErrors   = "database_errors_total"

	// Auth metrics
	MetricAuthAttempts = "auth_attempts_total"

	// HTTP metrics
	MetricHTTPRequests = "http_requests_total"
	MetricHTTPDuration = "http_request_duration_seconds"

	// Discovery metrics
	MetricDiscoveryRuns        = "discovery_runs_total"
	MetricDiscoveryDuration    = "discovery_duration_seconds"
	MetricDiscoveryCollections = "discovery_collections_found"
	MetricDiscoveryErrors      = "discovery_errors_total"
)

// MetricsCollector owns the Prometheus vectors the service records into.
type MetricsCollector struct {
	registry prometheus.Gatherer

	queries          *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	cache            *prometheus.CounterVec
	safetyViolations *prometheus.CounterVec
	sanitize         *prometheus.CounterVec

	llmRequests *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec
	llmErrors   *prometheus.CounterVec

	dbQueries  *prometheus.CounterVec
	dbDuration *prometheus.HistogramVec
	dbErrors   *prometheus.CounterVec

	authAttempts *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	discoveryRuns        prometheus.Counter
	discoveryDuration    prometheus.Histogram
	discoveryCollections prometheus.Gauge
	discoveryErrors      prometheus.Counter
}

// NewMetricsCollector registers a fresh set of vectors on reg.
func NewMetricsCollector(reg *prometheus.Registry) *MetricsCollector {
	return newMetricsCollector(reg, reg)
}

func newMetricsCollector(reg prometheus.Registerer, gatherer prometheus.Gatherer) *MetricsCollector {
	f := promauto.With(reg)
	return &MetricsCollector{
		registry: gatherer,

		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricQueryTotal,
			Help: "Questions processed, by query verb and outcome",
		}, []string{"verb", "status", "error_code"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricQueryDuration,
			Help:    "End-to-end question latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"verb"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricQueryCache,
			Help: "Answer cache lookups, by result",
		}, []string{"result"}),
		safetyViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricQuerySafetyViolation,
			Help: "Generated queries rejected by the safety checker",
		}, []string{"code"}),
		sanitize: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSanitizeTotal,
			Help: "Query text sanitization attempts, by outcome",
		}, []string{"outcome"}),

		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLLMRequests,
			Help: "Language model requests",
		}, []string{"provider", "operation"}),
		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricLLMDuration,
			Help:    "Language model request latency",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider", "operation"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLLMTokens,
			Help: "Language model tokens consumed",
		}, []string{"provider", "operation"}),
		llmErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLLMErrors,
			Help: "Language model request failures",
		}, []string{"provider", "operation"}),

		dbQueries: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDBQueries,
			Help: "Database operations",
		}, []string{"store", "operation"}),
		dbDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricDBDuration,
			Help:    "Database operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"store", "operation"}),
		dbErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDBErrors,
			Help: "Database operation failures",
		}, []string{"store", "operation"}),

		authAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAuthAttempts,
			Help: "Authentication attempts, by method and result",
		}, []string{"method", "result"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequests,
			Help: "HTTP requests served",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPDuration,
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		discoveryRuns: f.NewCounter(prometheus.CounterOpts{
			Name: MetricDiscoveryRuns,
			Help: "Schema discovery runs",
		}),
		discoveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricDiscoveryDuration,
			Help:    "Schema discovery run latency",
			Buckets: prometheus.DefBuckets,
		}),
		discoveryCollections: f.NewGauge(prometheus.GaugeOpts{
			Name: MetricDiscoveryCollections,
			Help: "Collections seen by the last discovery run",
		}),
		discoveryErrors: f.NewCounter(prometheus.CounterOpts{
			Name: MetricDiscoveryErrors,
			Help: "Schema discovery failures",
		}),
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

// RecordQuery records one processed question.
func (mc *MetricsCollector) RecordQuery(verb string, duration time.Duration, success bool, cached bool, errorCode string) {
	status := "success"
	if !success {
		status = "failure"
	}
	if verb == "" {
		verb = "unknown"
	}
	mc.queries.WithLabelValues(verb, status, errorCode).Inc()
	mc.queryDuration.WithLabelValues(verb).Observe(duration.Seconds())
	if cached {
		mc.cache.WithLabelValues("hit").Inc()
	} else {
		mc.cache.WithLabelValues("miss").Inc()
	}
}

// RecordSafetyViolation counts a rejected query.
func (mc *MetricsCollector) RecordSafetyViolation(code string) {
	mc.safetyViolations.WithLabelValues(code).Inc()
}

// RecordSanitize counts one sanitization attempt. outcome is "ok" or an error code.
func (mc *MetricsCollector) RecordSanitize(outcome string) {
	mc.sanitize.WithLabelValues(outcome).Inc()
}

// RecordLLM records one model call.
func (mc *MetricsCollector) RecordLLM(provider, operation string, duration time.Duration, tokens int, err error) {
	mc.llmRequests.WithLabelValues(provider, operation).Inc()
	mc.llmDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
	if tokens > 0 {
		mc.llmTokens.WithLabelValues(provider, operation).Add(float64(tokens))
	}
	if err != nil {
		mc.llmErrors.WithLabelValues(provider, operation).Inc()
	}
}

// RecordDB records one database operation.
func (mc *MetricsCollector) RecordDB(store, operation string, duration time.Duration, err error) {
	mc.dbQueries.WithLabelValues(store, operation).Inc()
	mc.dbDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
	if err != nil {
		mc.dbErrors.WithLabelValues(store, operation).Inc()
	}
}

// RecordAuth records one authentication attempt.
func (mc *MetricsCollector) RecordAuth(method string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	mc.authAttempts.WithLabelValues(method, result).Inc()
}

// RecordHTTP records one served request.
func (mc *MetricsCollector) RecordHTTP(method, path string, statusCode int, duration time.Duration) {
	mc.httpRequests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	mc.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDiscovery records one schema discovery run.
func (mc *MetricsCollector) RecordDiscovery(duration time.Duration, collections int, err error) {
	mc.discoveryRuns.Inc()
	mc.discoveryDuration.Observe(duration.Seconds())
	if err != nil {
		mc.discoveryErrors.Inc()
		return
	}
	mc.discoveryCollections.Set(float64(collections))
}

// Global metrics collector instance
var globalMetrics = newMetricsCollector(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

// GetGlobalMetrics returns the global metrics collector
func GetGlobalMetrics() *MetricsCollector {
	return globalMetrics
}

// RecordQueryMetrics records metrics for a processed question
func RecordQueryMetrics(verb string, duration time.Duration, success bool, cached bool, errorCode string) {
	globalMetrics.RecordQuery(verb, duration, success, cached, errorCode)
}

// RecordLLMMetrics records metrics for LLM operations
func RecordLLMMetrics(provider, operation string, duration time.Duration, tokens int, err error) {
	globalMetrics.RecordLLM(provider, operation, duration, tokens, err)
}

// RecordDBMetrics records metrics for database operations
func RecordDBMetrics(store, operation string, duration time.Duration, err error) {
	globalMetrics.RecordDB(store, operation, duration, err)
}

// RecordHTTPMetrics records metrics for HTTP requests
func RecordHTTPMetrics(method, path string, statusCode int, duration time.Duration) {
	globalMetrics.RecordHTTP(method, path, statusCode, duration)
}

// RecordSanitizeMetrics counts one sanitization attempt on the global collector.
func RecordSanitizeMetrics(outcome string) {
	globalMetrics.RecordSanitize(outcome)
}

// RecordSafetyViolationMetrics counts a rejected query on the global collector.
func RecordSafetyViolationMetrics(code string) {
	globalMetrics.RecordSafetyViolation(code)
}

// RecordDiscoveryMetrics records a discovery run on the global collector.
func RecordDiscoveryMetrics(duration time.Duration, collections int, err error) {
	globalMetrics.RecordDiscovery(duration, collections, err)
}

// RecordAuthMetrics records an authentication attempt on the global collector.
func RecordAuthMetrics(method string, success bool) {
	globalMetrics.RecordAuth(method, success)
}
