package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	apperrors "github.com/seanankenbruck/mongo-query-bot/internal/errors"
	"github.com/seanankenbruck/mongo-query-bot/internal/llm"
	"github.com/seanankenbruck/mongo-query-bot/internal/mongodb"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
	"github.com/seanankenbruck/mongo-query-bot/internal/semantic"
	"github.com/seanankenbruck/mongo-query-bot/internal/session"
)

// QueryRequest represents an incoming natural language question
type QueryRequest struct {
	Question   string `json:"question" binding:"required"`
	Collection string `json:"collection,omitempty"`
	SampleSize int    `json:"sample_size,omitempty"`
	UserID     string `json:"-"`
}

// QueryResponse represents the answered question
type QueryResponse struct {
	Question       string          `json:"question"`
	QueryText      string          `json:"query_text"`
	Verb           querytext.Verb  `json:"verb"`
	Collection     string          `json:"collection"`
	Answer         string          `json:"answer"`
	Confidence     float64         `json:"confidence,omitempty"`
	Intent         *QueryIntent    `json:"intent,omitempty"`
	Results        *QueryResults   `json:"results,omitempty"`
	ResultMetadata *ResultMetadata `json:"result_metadata,omitempty"`
	SimilarCount   int             `json:"similar_examples"`
	CacheHit       bool            `json:"cache_hit"`
	ProcessingTime time.Duration   `json:"processing_time"`
	ExecutionTime  int64           `json:"execution_time_ms"`
}

// QueryExecutor runs parsed queries. *mongodb.Executor implements it.
type QueryExecutor interface {
	Execute(ctx context.Context, collection string, q *querytext.Query) (*mongodb.Result, error)
	Samples(ctx context.Context, collection string, n int64) ([]bson.M, error)
}

// Quota limits model usage per user. *auth.TokenQuota implements it.
type Quota interface {
	Check(ctx context.Context, userID string) error
	Record(ctx context.Context, userID string, tokens int) (int64, error)
}

// QueryProcessor is the main service struct
type QueryProcessor struct {
	llmClient         llm.Client
	semanticMapper    semantic.Mapper
	executor          QueryExecutor
	safetyChecker     *SafetyChecker
	cache             *redis.Client
	history           *session.History
	quota             Quota
	intentClassifier  *IntentClassifier
	resultProcessor   *ResultProcessor
	metadataGenerator *MetadataGenerator
	config            config.QueryConfig
	logger            *observability.Logger
	healthChecker     *observability.HealthChecker
}

// NewQueryProcessor creates a new query processor instance. cache and
// history may be nil.
func NewQueryProcessor(llmClient llm.Client, semanticMapper semantic.Mapper, executor QueryExecutor, cache *redis.Client, history *session.History, cfg config.QueryConfig) (*QueryProcessor, error) {
	safety, err := NewSafetyChecker(cfg)
	if err != nil {
		return nil, err
	}

	maxSamples := int(cfg.MaxLimit)
	if maxSamples <= 0 {
		maxSamples = 100
	}

	return &QueryProcessor{
		llmClient:         llmClient,
		semanticMapper:    semanticMapper,
		executor:          executor,
		safetyChecker:     safety,
		cache:             cache,
		history:           history,
		intentClassifier:  NewIntentClassifier(maxSamples),
		resultProcessor:   NewResultProcessor(maxSamples),
		metadataGenerator: NewMetadataGenerator(),
		config:            cfg,
		logger:            observability.NewLogger("query-processor"),
	}, nil
}

// SetQuota enables the per-user token quota.
func (qp *QueryProcessor) SetQuota(quota Quota) {
	qp.quota = quota
}

// SetLogger replaces the processor's logger.
func (qp *QueryProcessor) SetLogger(logger *observability.Logger) {
	qp.logger = logger
}

// SetHealthChecker sets the health checker for the processor
func (qp *QueryProcessor) SetHealthChecker(healthChecker *observability.HealthChecker) {
	qp.healthChecker = healthChecker
}

// ProcessQuestion answers one question: it asks the model for a query,
// sanitizes and checks it, runs it and formats what came back.
func (qp *QueryProcessor) ProcessQuestion(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	if qp.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qp.config.Timeout)
		defer cancel()
	}

	question := strings.TrimSpace(req.Question)
	collection := req.Collection
	if collection == "" {
		collection = semantic.DefaultCollection
	}

	qp.logger.Info(ctx, "Processing question", map[string]interface{}{
		"question":   question,
		"collection": collection,
	})

	var (
		errorCode     string
		response      *QueryResponse
		processingErr error
		queryText     string
	)

	defer func() {
		duration := time.Since(start)
		success := processingErr == nil
		cached := response != nil && response.CacheHit
		verb := "unknown"
		if response != nil {
			verb = string(response.Verb)
		}
		observability.RecordQueryMetrics(verb, duration, success, cached, errorCode)

		if processingErr != nil {
			qp.logger.Error(ctx, "Question processing failed", processingErr, map[string]interface{}{
				"question":    question,
				"query_text":  queryText,
				"duration_ms": duration.Milliseconds(),
				"error_code":  errorCode,
			})
			qp.appendHistory(ctx, req.UserID, session.Entry{
				Question:   question,
				QueryText:  queryText,
				Collection: collection,
				Success:    false,
				Error:      processingErr.Error(),
			})
			return
		}

		qp.logger.Info(ctx, "Question processed successfully", map[string]interface{}{
			"question":    question,
			"query_text":  response.QueryText,
			"duration_ms": duration.Milliseconds(),
			"cache_hit":   cached,
		})
		qp.appendHistory(ctx, req.UserID, session.Entry{
			Question:    question,
			QueryText:   response.QueryText,
			Verb:        string(response.Verb),
			Collection:  collection,
			ResultCount: resultCount(response),
			Summary:     firstLine(response.Answer),
			Success:     true,
		})
	}()

	fail := func(err error) (*QueryResponse, error) {
		processingErr = err
		errorCode = string(apperrors.ErrCodeInternal)
		if e, ok := apperrors.As(err); ok {
			errorCode = string(e.Code)
		}
		return nil, err
	}

	if question == "" {
		return fail(apperrors.NewInvalidInputError("question", "must not be empty"))
	}
	if qp.config.MaxQuestionLength > 0 && len(question) > qp.config.MaxQuestionLength {
		return fail(apperrors.NewInvalidInputError("question",
			fmt.Sprintf("must be at most %d characters", qp.config.MaxQuestionLength)))
	}

	// Check cache first
	cacheKey := qp.cacheKey(collection, question, req.SampleSize)
	if cachedResult, err := qp.getCachedResult(ctx, cacheKey); err == nil {
		qp.logger.Debug(ctx, "Cache hit for question", map[string]interface{}{
			"question": question,
		})
		cachedResult.CacheHit = true
		cachedResult.ProcessingTime = time.Since(start)
		cachedResult.ExecutionTime = cachedResult.ProcessingTime.Milliseconds()
		response = cachedResult
		return cachedResult, nil
	}

	if qp.quota != nil && req.UserID != "" {
		if err := qp.quota.Check(ctx, req.UserID); err != nil {
			if _, ok := apperrors.As(err); !ok {
				err = apperrors.NewDatabaseQueryError(err, "check token quota")
			}
			return fail(err)
		}
	}

	intent := qp.intentClassifier.ClassifyIntent(question)
	sampleSize := intent.SampleSize
	if req.SampleSize > 0 {
		sampleSize = req.SampleSize
	}

	// Generate embeddings for similar examples
	embedding, err := qp.llmClient.GetEmbedding(ctx, question)
	if err != nil {
		if errors.Is(err, llm.ErrCircuitOpen) {
			return fail(apperrors.NewLLMUnavailableError(err))
		}
		return fail(apperrors.NewEmbeddingGenerationError(err))
	}

	similar, err := qp.semanticMapper.FindSimilarExamples(ctx, embedding, qp.config.SimilarityCutoff, qp.config.ExampleCount)
	if err != nil {
		// similar examples are optional
		qp.logger.Warn(ctx, "Failed to find similar examples", map[string]interface{}{
			"error": err.Error(),
		})
	}

	input, err := qp.promptInput(ctx, question, collection, intent, similar)
	if err != nil {
		return fail(err)
	}

	llmStart := time.Now()
	llmResponse, err := qp.llmClient.GenerateQuery(ctx, llm.BuildPrompt(input))
	llmDuration := time.Since(llmStart)
	if err != nil {
		if errors.Is(err, llm.ErrCircuitOpen) {
			return fail(apperrors.NewLLMUnavailableError(err))
		}
		return fail(apperrors.NewQueryGenerationError(err))
	}
	qp.recordTokens(ctx, req.UserID, llmResponse)

	queryText = querytext.Extract(llmResponse.QueryText)
	q, err := qp.parse(queryText)
	if err != nil {
		return fail(err)
	}

	if qp.config.EnableSafetyChecks {
		if err := qp.safetyChecker.ValidateQuery(q); err != nil {
			return fail(err)
		}
	}

	result, err := qp.executor.Execute(ctx, collection, q)
	if err != nil {
		return fail(apperrors.NewQueryExecutionError(err, q.String()))
	}

	processed, err := qp.resultProcessor.ProcessResults(q, result, sampleSize)
	if err != nil {
		return fail(apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to format results"))
	}

	metadata := qp.metadataGenerator.GenerateMetadata(q, processed)
	metadata.Collection = collection
	metadata.Model = llmResponse.Model
	metadata.InputTokens = llmResponse.InputTokens
	metadata.OutputTokens = llmResponse.OutputTokens
	metadata.Timings = map[string]int64{
		"llm":       llmDuration.Milliseconds(),
		"execution": result.Duration.Milliseconds(),
		"total":     time.Since(start).Milliseconds(),
	}

	response = &QueryResponse{
		Question:       question,
		QueryText:      q.String(),
		Verb:           q.Verb,
		Collection:     collection,
		Answer:         processed.Answer,
		Confidence:     llmResponse.Confidence,
		Intent:         intent,
		Results:        processed,
		ResultMetadata: metadata,
		SimilarCount:   len(similar),
		ProcessingTime: time.Since(start),
		ExecutionTime:  time.Since(start).Milliseconds(),
	}

	if err := qp.cacheResult(ctx, cacheKey, response); err != nil {
		qp.logger.Warn(ctx, "Failed to cache query result", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Only answers that returned something teach future prompts.
	if processed.Returned > 0 {
		if err := qp.semanticMapper.StoreExample(ctx, question, response.QueryText, embedding); err != nil {
			qp.logger.Warn(ctx, "Failed to store example", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return response, nil
}

// parse turns extracted model text into a query ready for execution.
func (qp *QueryProcessor) parse(text string) (*querytext.Query, error) {
	q, err := querytext.ParseQuery(text)
	if err != nil {
		return nil, apperrors.FromQueryTextError(err, text)
	}
	if q.Verb == querytext.VerbAggregate {
		q.Pipeline = querytext.NormalizePipeline(q.Pipeline)
	}
	if q.Verb == querytext.VerbFind && !q.ExplicitLimit && qp.config.DefaultLimit > 0 {
		q.Limit = qp.config.DefaultLimit
	}
	return q, nil
}

// promptInput gathers the schema, aliases and examples for the prompt.
func (qp *QueryProcessor) promptInput(ctx context.Context, question, collection string, intent *QueryIntent, similar []semantic.SimilarExample) (llm.PromptInput, error) {
	input := llm.PromptInput{
		Question:   question,
		Collection: collection,
		Hints:      intent.Hints(),
	}

	coll, err := qp.semanticMapper.GetCollection(ctx, collection)
	switch {
	case err == nil:
		input.Schema = coll.Fields
	case errors.Is(err, semantic.ErrNotFound) && collection != semantic.DefaultCollection:
		return input, apperrors.NewCollectionNotFoundError(collection)
	case !errors.Is(err, semantic.ErrNotFound):
		qp.logger.Warn(ctx, "Failed to load collection schema", map[string]interface{}{
			"collection": collection,
			"error":      err.Error(),
		})
	}

	aliases, err := qp.semanticMapper.GetAliases(ctx, collection)
	if err != nil {
		qp.logger.Warn(ctx, "Failed to load field aliases", map[string]interface{}{
			"collection": collection,
			"error":      err.Error(),
		})
	}
	input.Aliases = aliases

	for _, ex := range similar {
		input.Examples = append(input.Examples, llm.Example{Question: ex.Question, QueryText: ex.QueryText})
	}
	return input, nil
}

func (qp *QueryProcessor) recordTokens(ctx context.Context, userID string, resp *llm.Response) {
	if qp.quota == nil || userID == "" || resp.TotalTokens() == 0 {
		return
	}
	if _, err := qp.quota.Record(ctx, userID, resp.TotalTokens()); err != nil {
		qp.logger.Warn(ctx, "Failed to record token usage", map[string]interface{}{
			"user_id": userID,
			"tokens":  resp.TotalTokens(),
			"error":   err.Error(),
		})
	}
}

func (qp *QueryProcessor) appendHistory(ctx context.Context, userID string, entry session.Entry) {
	if qp.history == nil || userID == "" {
		return
	}
	// the request context may already be done
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := qp.history.Append(ctx, userID, entry); err != nil {
		qp.logger.Warn(ctx, "Failed to append history", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func (qp *QueryProcessor) cacheKey(collection, question string, sampleSize int) string {
	return fmt.Sprintf("query:%s:%d:%s", collection, sampleSize, strings.ToLower(question))
}

// getCachedResult retrieves cached query results
func (qp *QueryProcessor) getCachedResult(ctx context.Context, key string) (*QueryResponse, error) {
	if qp.cache == nil || qp.config.CacheTTL <= 0 {
		return nil, redis.Nil
	}
	cached, err := qp.cache.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var response QueryResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// cacheResult stores query results in cache
func (qp *QueryProcessor) cacheResult(ctx context.Context, key string, response *QueryResponse) error {
	if qp.cache == nil || qp.config.CacheTTL <= 0 {
		return nil
	}
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return qp.cache.Set(ctx, key, data, qp.config.CacheTTL).Err()
}

func resultCount(r *QueryResponse) int {
	if r.Results == nil {
		return 0
	}
	if r.Verb == querytext.VerbCount {
		return int(r.Results.Total)
	}
	return r.Results.Returned
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
