package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiOptions tunes the Gemini client.
type GeminiOptions struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int32
	Timeout        time.Duration
	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string
}

// GeminiClient implements Client on the Google GenAI SDK.
type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int32
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = "text-embedding-004"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}

	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		cc.HTTPOptions.Timeout = genai.Ptr(opts.Timeout)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:         client,
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		temperature:    opts.Temperature,
		maxTokens:      opts.MaxTokens,
	}, nil
}

// GenerateQuery asks the model for one query call.
func (g *GeminiClient) GenerateQuery(ctx context.Context, prompt *Prompt) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: g.maxTokens,
	}
	if prompt.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt.User), cfg)
	if err != nil {
		return nil, wrapGenAIError(err)
	}

	var in, out int
	if resp.UsageMetadata != nil {
		in = int(resp.UsageMetadata.PromptTokenCount)
		out = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return newResponse(resp.Text(), g.model, in, out)
}

// GetEmbedding embeds text for similarity search.
func (g *GeminiClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_QUERY",
	})
	if err != nil {
		return nil, wrapGenAIError(err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embeddings[0].Values, nil
}

// wrapGenAIError turns SDK status errors into APIError so retry and the
// breaker see a status code.
func wrapGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: ProviderGemini, StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return err
}
