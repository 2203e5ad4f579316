// Package llm provides a chat-completion client for OpenAI-compatible APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"docsearch/config"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/port"
)

// Default configuration values.
const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultTimeout   = 30 * time.Second
	DefaultMaxTokens = 200
)

var _ port.LLM = (*Client)(nil)

// Config holds configuration for the chat client.
type Config struct {
	// APIKey is the bearer token (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	BaseURL string

	// Model is the chat model (default: gpt-4o-mini).
	Model string

	// Timeout bounds one request.
	Timeout time.Duration

	// MaxTokens caps the reply length.
	MaxTokens int

	// RequestsPerSecond caps outgoing requests. Zero disables limiting.
	RequestsPerSecond float64
}

// Client sends deterministic (temperature 0) chat completions.
type Client struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	limiter   *rate.Limiter
}

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a chat client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, docerrors.New(docerrors.ErrCodeMissingCredentials, "LLM API key is required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	c := &Client{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// New builds the client selected by cfg. It returns nil and no error when
// the provider is "none".
func New(cfg config.LLMConfig) (*Client, error) {
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "openai", "":
	default:
		return nil, docerrors.ConfigError("unknown llm provider: "+cfg.Provider, nil).
			WithSuggestion("use one of: openai, none")
	}

	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, docerrors.CredentialsError(cfg.APIKeyEnv)
	}
	return NewClient(Config{
		APIKey:            apiKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
}

// Complete sends one system and one user message and returns the trimmed reply.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", docerrors.FromTransport("llm", err)
		}
	}

	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatCompletionMsg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", docerrors.FromTransport("llm", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", docerrors.FromTransport("llm", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", docerrors.FromHTTPStatus("llm", resp.StatusCode, string(body))
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", docerrors.CollaboratorError("llm", fmt.Errorf("decode response: %w", err))
	}
	if chatResp.Error != nil {
		return "", docerrors.CollaboratorError("llm", fmt.Errorf("openai error: %s", chatResp.Error.Message))
	}
	if len(chatResp.Choices) == 0 {
		return "", docerrors.CollaboratorError("llm", fmt.Errorf("no choices in response"))
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// ModelName returns the model name.
func (c *Client) ModelName() string {
	return c.model
}
