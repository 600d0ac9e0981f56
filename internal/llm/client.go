package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

// Provider names
const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// EmbeddingDim is the vector size stored by the semantic store.
const EmbeddingDim = 768

// Client interface for AI service integration
type Client interface {
	GenerateQuery(ctx context.Context, prompt *Prompt) (*Response, error)
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Response represents the response from the AI service
type Response struct {
	QueryText    string  `json:"query_text"`
	Raw          string  `json:"raw,omitempty"`
	Confidence   float64 `json:"confidence"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

// TotalTokens is what the request costs against a user's quota.
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// newResponse extracts the query call from raw model text.
func newResponse(raw, model string, in, out int) (*Response, error) {
	query := querytext.Extract(raw)
	if query == "" {
		return nil, fmt.Errorf("model returned an empty response")
	}
	return &Response{
		QueryText:    query,
		Raw:          raw,
		Confidence:   confidence(raw, query),
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
	}, nil
}

// confidence estimates how usable the raw answer was.
func confidence(raw, query string) float64 {
	c := 0.3
	if querytext.HasVerb(query) {
		c = 0.8
	}
	// stray prose around the call
	if strings.TrimSpace(raw) != query {
		c -= 0.1
	}
	for _, phrase := range []string{"not sure", "might be", "could be", "i think", "perhaps"} {
		if strings.Contains(strings.ToLower(raw), phrase) {
			c -= 0.1
		}
	}
	if c < 0 {
		c = 0
	}
	return c
}

// APIError is a non-2xx answer from a model provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return isHTTPStatusRetryable(e.StatusCode)
}

// NewClient builds the configured provider wrapped in retries, a circuit
// breaker and metrics, in that order from the inside out.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *observability.Logger) (*CircuitBreakerClient, error) {
	var (
		base Client
		err  error
	)
	switch cfg.Provider {
	case ProviderGemini:
		base, err = NewGeminiClient(ctx, GeminiOptions{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Temperature:    float32(cfg.Temperature),
			MaxTokens:      int32(cfg.MaxTokens),
			Timeout:        cfg.Timeout,
		})
	case ProviderClaude:
		base, err = NewClaudeClient(cfg.ClaudeAPIKey, cfg.Model, ClaudeOptions{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	instrumented := &InstrumentedClient{client: base, provider: cfg.Provider, logger: logger}
	retrying := NewRetryClient(instrumented, RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}, logger)

	breakerCfg := DefaultCircuitBreakerConfig(logger)
	if cfg.BreakerFailures > 0 {
		breakerCfg.ReadyToTrip = consecutiveFailures(cfg.BreakerFailures)
	}
	if cfg.BreakerTimeout > 0 {
		breakerCfg.Timeout = cfg.BreakerTimeout
	}
	return NewCircuitBreakerClient(retrying, cfg.Provider, breakerCfg), nil
}

// InstrumentedClient records metrics and logs for every provider call.
type InstrumentedClient struct {
	client   Client
	provider string
	logger   *observability.Logger
}

// GenerateQuery calls the wrapped client and records the outcome.
func (ic *InstrumentedClient) GenerateQuery(ctx context.Context, prompt *Prompt) (*Response, error) {
	start := time.Now()
	resp, err := ic.client.GenerateQuery(ctx, prompt)
	duration := time.Since(start)

	tokens := 0
	if resp != nil {
		tokens = resp.TotalTokens()
	}
	observability.RecordLLMMetrics(ic.provider, "generate", duration, tokens, err)

	if err != nil {
		ic.logger.Warn(ctx, "Query generation failed", map[string]interface{}{
			"provider":    ic.provider,
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})
		return nil, err
	}

	ic.logger.Debug(ctx, "Query generated", map[string]interface{}{
		"provider":      ic.provider,
		"model":         resp.Model,
		"duration_ms":   duration.Milliseconds(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"confidence":    resp.Confidence,
	})
	return resp, nil
}

// GetEmbedding calls the wrapped client and records the outcome.
func (ic *InstrumentedClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	embedding, err := ic.client.GetEmbedding(ctx, text)
	observability.RecordLLMMetrics(ic.provider, "embed", time.Since(start), 0, err)
	return embedding, err
}
