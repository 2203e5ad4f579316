package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	docerrors "docsearch/internal/errors"
)

// Config holds all configuration for docsearch.
type Config struct {
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Chunk     ChunkConfig     `yaml:"chunk" toml:"chunk"`
	Keyword   KeywordConfig   `yaml:"keyword" toml:"keyword"`
	Search    SearchConfig    `yaml:"search" toml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Ingest    IngestConfig    `yaml:"ingest" toml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Dir         string        `yaml:"dir" toml:"dir"`         // relative to the root directory
	Backend     string        `yaml:"backend" toml:"backend"` // "file", "bolt", "memory"
	ManifestTTL time.Duration `yaml:"manifest_ttl" toml:"manifest_ttl"`
	TagsFile    string        `yaml:"tags_file" toml:"tags_file"`
}

// ChunkConfig holds chunking configuration.
type ChunkConfig struct {
	Size      int `yaml:"size" toml:"size"`
	Overlap   int `yaml:"overlap" toml:"overlap"`
	MinLength int `yaml:"min_length" toml:"min_length"`
}

// KeywordConfig holds BM25 parameters.
type KeywordConfig struct {
	K1 float64 `yaml:"k1" toml:"k1"`
	B  float64 `yaml:"b" toml:"b"`
}

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	Limit          int           `yaml:"limit" toml:"limit"`
	Method         string        `yaml:"method" toml:"method"`
	RRFK           int           `yaml:"rrf_k" toml:"rrf_k"`
	OverfetchScale int           `yaml:"overfetch_scale" toml:"overfetch_scale"`
	RerankPool     int           `yaml:"rerank_pool" toml:"rerank_pool"`
	Rewrite        bool          `yaml:"rewrite" toml:"rewrite"`
	Rerank         bool          `yaml:"rerank" toml:"rerank"`
	MaxPerSource   int           `yaml:"max_per_source" toml:"max_per_source"`
	CacheSize      int           `yaml:"cache_size" toml:"cache_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl" toml:"cache_ttl"`
	QueryLog       string        `yaml:"query_log" toml:"query_log"` // empty disables the query log
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" toml:"provider"` // "openai", "mock"
	Model             string        `yaml:"model" toml:"model"`
	BaseURL           string        `yaml:"base_url" toml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env" toml:"api_key_env"`
	Dimension         int           `yaml:"dimension" toml:"dimension"`
	BatchSize         int           `yaml:"batch_size" toml:"batch_size"`
	CacheSize         int           `yaml:"cache_size" toml:"cache_size"`
	Timeout           time.Duration `yaml:"timeout" toml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" toml:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries" toml:"max_retries"`
}

// LLMConfig configures the chat model used for query rewriting and reranking.
type LLMConfig struct {
	Provider          string        `yaml:"provider" toml:"provider"` // "openai", "none"
	Model             string        `yaml:"model" toml:"model"`
	BaseURL           string        `yaml:"base_url" toml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env" toml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout" toml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" toml:"requests_per_second"`
}

// IngestConfig holds file discovery configuration.
type IngestConfig struct {
	Includes      []string      `yaml:"includes" toml:"includes"`
	Excludes      []string      `yaml:"excludes" toml:"excludes"`
	SourceType    string        `yaml:"source_type" toml:"source_type"`
	WatchDebounce time.Duration `yaml:"watch_debounce" toml:"watch_debounce"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Dir:         ".docsearch/data",
			Backend:     "file",
			ManifestTTL: 5 * time.Second,
		},
		Chunk: ChunkConfig{
			Size:      500,
			Overlap:   100,
			MinLength: 50,
		},
		Keyword: KeywordConfig{
			K1: 1.2,
			B:  0.75,
		},
		Search: SearchConfig{
			Limit:          5,
			Method:         "hybrid",
			RRFK:           60,
			OverfetchScale: 3,
			RerankPool:     20,
			Rewrite:        false,
			Rerank:         false,
			MaxPerSource:   2,
			CacheSize:      256,
			CacheTTL:       5 * time.Minute,
			QueryLog:       ".docsearch/logs/queries.jsonl",
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			APIKeyEnv:         "OPENAI_API_KEY",
			Dimension:         1536,
			BatchSize:         100,
			CacheSize:         1000,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 5,
			MaxRetries:        3,
		},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
		},
		Ingest: IngestConfig{
			Includes:      []string{"**/*.txt", "**/*.md"},
			Excludes:      []string{"**/.git/**", "**/.docsearch/**", "**/node_modules/**"},
			SourceType:    "pdf",
			WatchDebounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, docerrors.New(docerrors.ErrCodeConfigNotFound, "failed to read config file", err).
			WithDetail("path", path)
	}

	if isTOML(path) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, docerrors.ConfigError("failed to parse config file", err).WithDetail("path", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory. It looks for
// docsearch.yaml, docsearch.toml and .docsearch/config.yaml in that order.
func LoadFromDir(dir string) (*Config, error) {
	candidates := []string{
		filepath.Join(dir, "docsearch.yaml"),
		filepath.Join(dir, "docsearch.toml"),
		filepath.Join(dir, ".docsearch", "config.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML or TOML file, chosen by extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the values that would otherwise produce nonsense at query time.
func (c *Config) Validate() error {
	switch {
	case c.Chunk.Size <= 0:
		return docerrors.ConfigError("chunk.size must be positive", nil)
	case c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size:
		return docerrors.ConfigError("chunk.overlap must be in [0, chunk.size)", nil)
	case c.Keyword.K1 < 0 || c.Keyword.B < 0 || c.Keyword.B > 1:
		return docerrors.ConfigError("keyword.k1 must be >= 0 and keyword.b in [0, 1]", nil)
	case c.Search.Limit <= 0:
		return docerrors.ConfigError("search.limit must be positive", nil)
	case c.Search.RRFK <= 0:
		return docerrors.ConfigError("search.rrf_k must be positive", nil)
	}

	switch c.Store.Backend {
	case "file", "bolt", "memory":
	default:
		return docerrors.ConfigError("unknown store backend: "+c.Store.Backend, nil).
			WithSuggestion("use one of: file, bolt, memory")
	}
	return nil
}

// StoreDir returns the absolute storage directory for a root directory.
func (c *Config) StoreDir(root string) string {
	if filepath.IsAbs(c.Store.Dir) {
		return c.Store.Dir
	}
	return filepath.Join(root, c.Store.Dir)
}

// QueryLogPath returns the query log path for a root directory, or "" when disabled.
func (c *Config) QueryLogPath(root string) string {
	if c.Search.QueryLog == "" || filepath.IsAbs(c.Search.QueryLog) {
		return c.Search.QueryLog
	}
	return filepath.Join(root, c.Search.QueryLog)
}

// BoltPath returns the path of the bbolt database inside a store directory.
func BoltPath(storeDir string) string {
	return filepath.Join(storeDir, "index.db")
}

// EnsureStoreDir ensures the storage directory exists.
func EnsureStoreDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
