package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"
)

const (
	ClaudeAPIBaseURL = "https://api.anthropic.com/v1"
	ClaudeVersion    = "2023-06-01"
)

// ClaudeOptions tunes the Claude client.
type ClaudeOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	BaseURL     string
}

// ClaudeClient implements the Client interface using Anthropic's Messages API
type ClaudeClient struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// Claude API request structures
type ClaudeRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Claude API response structures
type ClaudeResponse struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
	Model   string         `json:"model"`
	Usage   Usage          `json:"usage"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClaudeClient creates a new Claude client
func NewClaudeClient(apiKey, model string, opts ClaudeOptions) (*ClaudeClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = ClaudeAPIBaseURL
	}

	return &ClaudeClient{
		apiKey:      apiKey,
		model:       model,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		client:      &http.Client{Timeout: opts.Timeout},
	}, nil
}

// GenerateQuery sends the prompt to Claude and extracts the query call.
func (c *ClaudeClient) GenerateQuery(ctx context.Context, prompt *Prompt) (*Response, error) {
	request := ClaudeRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      prompt.System,
		Messages:    []Message{{Role: "user", Content: prompt.User}},
	}

	response, err := c.sendClaudeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return newResponse(text.String(), response.Model, response.Usage.InputTokens, response.Usage.OutputTokens)
}

// GetEmbedding returns a hashed bag-of-words vector. Claude has no
// embedding endpoint; these vectors only match near-identical wording.
func (c *ClaudeClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	return hashedEmbedding(text), nil
}

func (c *ClaudeClient) sendClaudeRequest(ctx context.Context, request ClaudeRequest) (*ClaudeResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", ClaudeVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := string(body)
		var errorResponse claudeErrorResponse
		if json.Unmarshal(body, &errorResponse) == nil && errorResponse.Error.Message != "" {
			message = errorResponse.Error.Message
		}
		return nil, &APIError{Provider: ProviderClaude, StatusCode: resp.StatusCode, Message: message}
	}

	var claudeResponse ClaudeResponse
	if err := json.Unmarshal(body, &claudeResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &claudeResponse, nil
}

// hashedEmbedding hashes lowercased word unigrams and bigrams into
// EmbeddingDim buckets and L2-normalizes the result.
func hashedEmbedding(text string) []float32 {
	embedding := make([]float32, EmbeddingDim)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	add := func(token string) {
		h := fnv.New32a()
		h.Write([]byte(token))
		embedding[h.Sum32()%EmbeddingDim]++
	}
	for i, w := range words {
		add(w)
		if i > 0 {
			add(words[i-1] + " " + w)
		}
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v * v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range embedding {
			embedding[i] *= scale
		}
	}
	return embedding
}
