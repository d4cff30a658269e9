// Package llm provides model invocation for document analysis.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "openai/gpt-4o-mini"
)

// ErrInvocationFailed indicates the model could not produce a response.
var ErrInvocationFailed = errors.New("model invocation failed")

// Client defines the model invocation interface.
type Client interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
	Model() string
}

// InvokeRequest describes a single model invocation.
type InvokeRequest struct {
	Prompt         string
	Temperature    float64
	MaxTokens      int
	StructuredMode bool // request a JSON object response
}

// InvokeResult holds the model output and usage accounting.
type InvokeResult struct {
	Content   string
	TokensIn  int
	TokensOut int
	Duration  time.Duration
}

// HTTPClient invokes an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	retryConfig *RetryConfig
	limiter     *rate.Limiter
	semaphore   chan struct{}
}

// Config holds HTTP client configuration.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	RateLimit     float64 // requests per second, 0 disables
	MaxConcurrent int     // in-flight request cap, 0 disables
}

// NewHTTPClient creates a new model client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	retryConfig := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryConfig.MaxRetries = cfg.MaxRetries
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	var semaphore chan struct{}
	if cfg.MaxConcurrent > 0 {
		semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}

	return &HTTPClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		retryConfig: retryConfig,
		limiter:     limiter,
		semaphore:   semaphore,
	}, nil
}

// chatRequest represents the chat completions API request.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatMessage represents a single chat message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat constrains the model output shape.
type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse represents the API response.
type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *apiError    `json:"error,omitempty"`
}

// chatChoice represents a single completion choice.
type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage contains token usage information.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// apiError represents a provider error payload.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Invoke sends a prompt to the model and returns the response content.
func (c *HTTPClient) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvocationFailed)
	}

	// Bound in-flight requests
	if c.semaphore != nil {
		select {
		case c.semaphore <- struct{}{}:
			defer func() { <-c.semaphore }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Client-side rate limiting
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	chatReq := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.StructuredMode {
		chatReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()

	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		// Clone the request body for each retry
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("HTTP-Referer", "https://inkwell.ai")
		httpReq.Header.Set("X-Title", "Document Engine")

		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrInvocationFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp chatResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("%w: %s (type: %s)", ErrInvocationFailed, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrInvocationFailed, resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", ErrInvocationFailed, err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrInvocationFailed)
	}

	return &InvokeResult{
		Content:   chatResp.Choices[0].Message.Content,
		TokensIn:  chatResp.Usage.PromptTokens,
		TokensOut: chatResp.Usage.CompletionTokens,
		Duration:  time.Since(start),
	}, nil
}

// Model returns the model being used.
func (c *HTTPClient) Model() string {
	return c.model
}
