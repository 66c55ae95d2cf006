package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdf-translator/internal/logger"
)

// DefaultTimeout is the per-request timeout when Config.Timeout is zero.
const DefaultTimeout = 120 * time.Second

func init() {
	Register(BackendOpenAI, func(cfg Config) (Backend, error) { return NewHTTPBackend(cfg) })
}

// ChatCompletionRequest represents the request body for OpenAI chat completions API.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float32  `json:"temperature,omitempty"`
}

// Message represents a message in the chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse represents the response from OpenAI chat completions API.
type ChatCompletionResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *APIError `json:"error,omitempty"`
}

// Choice represents a choice in the chat completion response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError represents an error response from the OpenAI API.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// HTTPBackend calls an OpenAI-compatible /chat/completions endpoint directly.
type HTTPBackend struct {
	apiKey      string
	apiURL      string
	model       string
	temperature *float32
	pool        *ClientPool
}

// NewHTTPBackend creates the raw HTTP backend.
func NewHTTPBackend(cfg Config) (*HTTPBackend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	return &HTTPBackend{
		apiKey:      cfg.APIKey,
		apiURL:      normalizeAPIURL(base),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		pool:        NewClientPool(poolSize, timeout),
	}, nil
}

// normalizeAPIURL ensures the API URL ends with /chat/completions
func normalizeAPIURL(url string) string {
	url = strings.TrimSuffix(url, "/")
	if strings.HasSuffix(url, "/chat/completions") {
		return url
	}
	return url + "/chat/completions"
}

// Name implements Backend.
func (b *HTTPBackend) Name() string { return BackendOpenAI }

// Complete sends one chat completion request.
func (b *HTTPBackend) Complete(ctx context.Context, req Request) (string, error) {
	reqBody := ChatCompletionRequest{
		Model: b.model,
		Messages: []Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: b.temperature,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	client, err := b.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer b.pool.Release(client)

	requestID := uuid.New().String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	httpReq.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		logger.Debug("completion request failed", logger.String("requestID", requestID), logger.Err(err))
		return "", fmt.Errorf("llm: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, RequestID: requestID}
		var errResp struct {
			Error APIError `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil {
			se.Message = errResp.Error.Message
		}
		logger.Debug("completion returned error status",
			logger.String("requestID", requestID),
			logger.Int("statusCode", resp.StatusCode))
		return "", se
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedResponse, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	logger.Debug("completion received",
		logger.String("requestID", requestID),
		logger.Int("totalTokens", chatResp.Usage.TotalTokens),
		logger.Duration("latency", time.Since(start)))
	return chatResp.Choices[0].Message.Content, nil
}
