package embedding

import (
	"os"

	"docsearch/config"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/port"
)

// New builds the embedder selected by cfg, wrapped in a CachedEmbedder when
// caching is enabled. Missing credentials fail here, before any search runs.
func New(cfg config.EmbeddingConfig) (port.Embedder, error) {
	var inner port.Embedder
	switch cfg.Provider {
	case "mock":
		inner = NewMockEmbedder(cfg.Dimension)
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaBaseURL
		}
		e, err := NewOpenAIEmbedder(openAIConfig(cfg, "", baseURL))
		if err != nil {
			return nil, err
		}
		inner = e
	case "openai", "":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, docerrors.CredentialsError(cfg.APIKeyEnv)
		}
		e, err := NewOpenAIEmbedder(openAIConfig(cfg, apiKey, cfg.BaseURL))
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		return nil, docerrors.ConfigError("unknown embedding provider: "+cfg.Provider, nil).
			WithSuggestion("use one of: openai, ollama, mock")
	}

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(inner, cfg.CacheSize), nil
	}
	return inner, nil
}

func openAIConfig(cfg config.EmbeddingConfig, apiKey, baseURL string) OpenAIConfig {
	retry := docerrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	return OpenAIConfig{
		APIKey:            apiKey,
		BaseURL:           baseURL,
		Model:             cfg.Model,
		Dimension:         cfg.Dimension,
		BatchSize:         cfg.BatchSize,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry:             retry,
	}
}
