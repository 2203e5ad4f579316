package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	docerrors "docsearch/internal/errors"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOllamaBaseURL = "http://localhost:11434/v1"
	DefaultBatchSize     = 100
	DefaultTimeout       = 60 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible embeddings client.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int // zero picks the model's known dimension
	BatchSize int
	Timeout   time.Duration
	// RequestsPerSecond caps outgoing requests. Zero disables limiting.
	RequestsPerSecond float64
	Retry             docerrors.RetryConfig
}

// OpenAIEmbedder calls the /embeddings endpoint of OpenAI or any server
// speaking the same protocol (Ollama, Jina, DeepSeek).
type OpenAIEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	batchSize int
	client    *http.Client
	limiter   *rate.Limiter
	retry     docerrors.RetryConfig
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage embeddingUsage  `json:"usage"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIEmbedder creates a client. An empty API key is only accepted for
// local servers that ignore it.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, docerrors.ConfigError("embedding model is required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = modelDimension(cfg.Model)
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = docerrors.DefaultRetryConfig()
	}

	e := &OpenAIEmbedder{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		baseURL:   cfg.BaseURL,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		client:    &http.Client{Timeout: cfg.Timeout},
		retry:     cfg.Retry,
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return e, nil
}

func modelDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "jina-embeddings-v3":
		return 1024
	case "jina-embeddings-v4":
		return 2048
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	default: // text-embedding-3-small, text-embedding-ada-002
		return 1536
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		embeddings, err := docerrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
			return e.embedBatch(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	jsonData, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, docerrors.FromTransport("embedding", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, docerrors.FromTransport("embedding", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, docerrors.FromHTTPStatus("embedding", resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200]
		}
		return nil, docerrors.New(docerrors.ErrCodeEmbeddingFailed,
			"failed to parse embedding response", err).WithDetail("body", bodyPreview)
	}

	if embResp.Error != nil {
		return nil, docerrors.New(docerrors.ErrCodeEmbeddingFailed, "API error: "+embResp.Error.Message, nil)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}
	for i, vec := range embeddings {
		if vec == nil {
			return nil, docerrors.New(docerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("missing embedding for input %d", i), nil)
		}
		if len(vec) != e.dimension {
			return nil, docerrors.New(docerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding dimension %d, expected %d", len(vec), e.dimension), nil).
				WithDetail("model", e.model)
		}
	}

	return embeddings, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
