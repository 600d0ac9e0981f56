package processor

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/mongo-query-bot/internal/auth"
	apperrors "github.com/seanankenbruck/mongo-query-bot/internal/errors"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
)

// RouteOptions carries what SetupRoutes wires around the processor.
// A nil Auth leaves the API open.
type RouteOptions struct {
	Auth    *auth.AuthManager
	Limiter *auth.RateLimiter
	Quota   *auth.TokenQuota
	Metrics *observability.MetricsCollector
	Logger  *observability.Logger
	Version string
}

// SanitizeRequest is the body of POST /api/v1/sanitize.
type SanitizeRequest struct {
	Text      string `json:"text"`
	Canonical bool   `json:"canonical,omitempty"`
}

// SetupRoutes configures HTTP routes
func (qp *QueryProcessor) SetupRoutes(opts RouteOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = qp.logger
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.GetGlobalMetrics()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	r := gin.New()
	r.Use(observability.RecoveryMiddleware(logger))
	r.Use(observability.RequestLoggingMiddleware(logger, metrics))
	r.Use(observability.CORSWithLogging(logger))

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": version,
			"service": "query-bot",
		})
	}
	if qp.healthChecker != nil {
		r.GET("/health", observability.HealthHandler(qp.healthChecker))
	} else {
		r.GET("/health", health)
	}
	r.GET("/metrics", observability.MetricsHandler(metrics))

	api := r.Group("/api/v1")
	api.GET("/health", health)
	if opts.Auth != nil {
		api.Use(opts.Auth.Middleware(opts.Limiter))
		auth.NewAuthHandlers(opts.Auth, opts.Limiter, opts.Quota).SetupRoutes(api)
	}
	{
		api.POST("/query", qp.handleQuery)
		api.POST("/sanitize", qp.handleSanitize)
		api.GET("/collections", qp.handleGetCollections)
		api.GET("/collections/:name", qp.handleGetCollection)
		api.GET("/collections/:name/samples", qp.handleGetDocumentSamples)
		api.GET("/samples", qp.handleGetSampleQuestions)
		api.GET("/history", qp.handleGetHistory)
		api.DELETE("/history", qp.handleClearHistory)
	}

	return r
}

func (qp *QueryProcessor) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewInvalidInputError("request body", err.Error()))
		return
	}
	req.UserID, _ = auth.GetCurrentUserID(c)

	response, err := qp.ProcessQuestion(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (qp *QueryProcessor) handleSanitize(c *gin.Context) {
	var req SanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewInvalidInputError("request body", err.Error()))
		return
	}

	result, err := SanitizeText(req.Text, req.Canonical)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (qp *QueryProcessor) handleGetCollections(c *gin.Context) {
	collections, err := qp.semanticMapper.GetCollections(c.Request.Context())
	if err != nil {
		respondError(c, apperrors.NewDatabaseQueryError(err, "fetching collections"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections, "count": len(collections)})
}

func (qp *QueryProcessor) handleGetCollection(c *gin.Context) {
	name := c.Param("name")
	collection, err := qp.semanticMapper.GetCollection(c.Request.Context(), name)
	if err != nil {
		respondError(c, apperrors.NewCollectionNotFoundError(name))
		return
	}

	aliases, err := qp.semanticMapper.GetAliases(c.Request.Context(), name)
	if err != nil {
		respondError(c, apperrors.NewDatabaseQueryError(err, "fetching aliases"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"collection": collection, "aliases": aliases})
}

func (qp *QueryProcessor) handleGetDocumentSamples(c *gin.Context) {
	n, err := strconv.ParseInt(c.DefaultQuery("limit", "5"), 10, 64)
	if err != nil || n <= 0 {
		respondError(c, apperrors.NewInvalidInputError("limit", "must be a positive integer"))
		return
	}

	name := c.Param("name")
	docs, err := qp.executor.Samples(c.Request.Context(), name, n)
	if err != nil {
		respondError(c, apperrors.NewQueryExecutionError(err, "samples"))
		return
	}

	records := make([]interface{}, len(docs))
	for i, doc := range docs {
		records[i] = displayValue(doc)
	}
	c.JSON(http.StatusOK, gin.H{"collection": name, "documents": records, "count": len(records)})
}

func (qp *QueryProcessor) handleGetSampleQuestions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"questions": SampleQuestions()})
}

func (qp *QueryProcessor) handleGetHistory(c *gin.Context) {
	userID, ok := auth.GetCurrentUserID(c)
	if !ok {
		respondError(c, apperrors.NewNotAuthenticatedError())
		return
	}
	if qp.history == nil {
		c.JSON(http.StatusOK, gin.H{"history": []interface{}{}, "count": 0})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		respondError(c, apperrors.NewInvalidInputError("limit", "must be a non-negative integer"))
		return
	}

	entries, err := qp.history.List(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, apperrors.NewDatabaseQueryError(err, "fetching history"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}

func (qp *QueryProcessor) handleClearHistory(c *gin.Context) {
	userID, ok := auth.GetCurrentUserID(c)
	if !ok {
		respondError(c, apperrors.NewNotAuthenticatedError())
		return
	}
	if qp.history != nil {
		if err := qp.history.Clear(c.Request.Context(), userID); err != nil {
			respondError(c, apperrors.NewDatabaseQueryError(err, "clearing history"))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "history cleared"})
}

func respondError(c *gin.Context, err error) {
	status, body := apperrors.Response(err)
	c.JSON(status, body)
}
