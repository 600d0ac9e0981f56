package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
)

// RetryConfig defines retry behavior for provider calls
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
}

// DefaultRetryConfig provides sensible defaults for retry behavior
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  100 * time.Millisecond,
	MaxDelay:   5 * time.Second,
}

// RetryClient retries transient provider failures with exponential backoff.
type RetryClient struct {
	client Client
	config RetryConfig
	logger *observability.Logger
}

// NewRetryClient wraps client. Zero fields in config take the defaults.
func NewRetryClient(client Client, config RetryConfig, logger *observability.Logger) *RetryClient {
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RetryClient{client: client, config: config, logger: logger}
}

// GenerateQuery retries the wrapped GenerateQuery.
func (r *RetryClient) GenerateQuery(ctx context.Context, prompt *Prompt) (*Response, error) {
	var resp *Response
	err := r.do(ctx, "generate", func() error {
		var err error
		resp, err = r.client.GenerateQuery(ctx, prompt)
		return err
	})
	return resp, err
}

// GetEmbedding retries the wrapped GetEmbedding.
func (r *RetryClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := r.do(ctx, "embed", func() error {
		var err error
		embedding, err = r.client.GetEmbedding(ctx, text)
		return err
	})
	return embedding, err
}

func (r *RetryClient) do(ctx context.Context, operation string, call func() error) error {
	exp := r.newBackOff()

	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}

		if !isRetryableError(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxRetries {
			break
		}

		wait := exp.NextBackOff()
		r.logger.Debug(ctx, "Retrying provider call", map[string]interface{}{
			"operation": operation,
			"attempt":   attempt + 1,
			"wait_ms":   wait.Milliseconds(),
			"error":     lastErr.Error(),
		})

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("request cancelled during retry: %w", ctx.Err())
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", r.config.MaxRetries, lastErr)
}

func (r *RetryClient) newBackOff() *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.config.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.5
	exp.MaxInterval = r.config.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}

// isRetryableError determines if an error should be retried
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, transient := range []string{"connection refused", "connection reset", "EOF", "timeout"} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

// isHTTPStatusRetryable checks if an HTTP status code should be retried
func isHTTPStatusRetryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
