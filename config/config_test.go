package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	docerrors "docsearch/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chunk.Size != 500 {
		t.Errorf("expected Chunk.Size=500, got %d", cfg.Chunk.Size)
	}
	if cfg.Chunk.Overlap != 100 {
		t.Errorf("expected Chunk.Overlap=100, got %d", cfg.Chunk.Overlap)
	}
	if cfg.Keyword.K1 != 1.2 {
		t.Errorf("expected K1=1.2, got %f", cfg.Keyword.K1)
	}
	if cfg.Keyword.B != 0.75 {
		t.Errorf("expected B=0.75, got %f", cfg.Keyword.B)
	}
	if cfg.Search.RRFK != 60 {
		t.Errorf("expected RRFK=60, got %d", cfg.Search.RRFK)
	}
	if cfg.Search.MaxPerSource != 2 {
		t.Errorf("expected MaxPerSource=2, got %d", cfg.Search.MaxPerSource)
	}
	if cfg.Store.ManifestTTL != 5*time.Second {
		t.Errorf("expected ManifestTTL=5s, got %s", cfg.Store.ManifestTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docsearch.yaml")

	content := `
chunk:
  size: 800
  overlap: 120
store:
  backend: bolt
  manifest_ttl: 2s
search:
  limit: 10
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chunk.Size != 800 {
		t.Errorf("expected Chunk.Size=800, got %d", cfg.Chunk.Size)
	}
	if cfg.Store.Backend != "bolt" {
		t.Errorf("expected backend=bolt, got %s", cfg.Store.Backend)
	}
	if cfg.Store.ManifestTTL != 2*time.Second {
		t.Errorf("expected ManifestTTL=2s, got %s", cfg.Store.ManifestTTL)
	}
	if cfg.Search.Limit != 10 {
		t.Errorf("expected Limit=10, got %d", cfg.Search.Limit)
	}
	// Untouched sections keep their defaults.
	if cfg.Keyword.K1 != 1.2 {
		t.Errorf("expected K1 default to survive, got %f", cfg.Keyword.K1)
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docsearch.toml")

	content := `
[search]
limit = 7
method = "keyword"

[keyword]
k1 = 1.5
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.Limit != 7 {
		t.Errorf("expected Limit=7, got %d", cfg.Search.Limit)
	}
	if cfg.Search.Method != "keyword" {
		t.Errorf("expected Method=keyword, got %s", cfg.Search.Method)
	}
	if cfg.Keyword.K1 != 1.5 {
		t.Errorf("expected K1=1.5, got %f", cfg.Keyword.K1)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docsearch.yaml")

	content := `
chunk:
  size: 100
  overlap: 100
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for overlap >= size")
	}
	var de *docerrors.DocError
	if !errors.As(err, &de) || de.Code != docerrors.ErrCodeConfigInvalid {
		t.Errorf("expected %s, got %v", docerrors.ErrCodeConfigInvalid, err)
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".docsearch"), 0755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(tmpDir, ".docsearch", "config.yaml")

	content := `
search:
  max_per_source: 3
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Search.MaxPerSource != 3 {
		t.Errorf("expected MaxPerSource=3, got %d", cfg.Search.MaxPerSource)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "docsearch.yaml")

	cfg := DefaultConfig()
	cfg.Search.Limit = 12
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Search.Limit != 12 {
		t.Errorf("expected Limit=12 after reload, got %d", loaded.Search.Limit)
	}
}

func TestStoreDir(t *testing.T) {
	cfg := DefaultConfig()
	path := cfg.StoreDir("/home/user/corpus")
	expected := filepath.Join("/home/user/corpus", ".docsearch", "data")
	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}

	cfg.Store.Dir = "/var/lib/docsearch"
	if got := cfg.StoreDir("/ignored"); got != "/var/lib/docsearch" {
		t.Errorf("expected absolute dir to be kept, got %s", got)
	}
}
