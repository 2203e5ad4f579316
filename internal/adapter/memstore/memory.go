// Package memstore provides an in-memory store backend for tests and
// throwaway corpora.
package memstore

import (
	"encoding/json"
	"sync"

	"docsearch/internal/domain"
	"docsearch/internal/port"
)

const (
	keyManifest = "manifest"
	keyKeyword  = "bm25"
	keyLegacy   = "legacy"
)

// Backend implements port.Backend over maps of encoded records, so callers
// never share memory with what is stored.
type Backend struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	meta    map[string][]byte
	shards  map[string][]byte
	chunks  map[string][]byte
}

func NewBackend() *Backend {
	return &Backend{
		meta:   make(map[string][]byte),
		shards: make(map[string][]byte),
		chunks: make(map[string][]byte),
	}
}

func (b *Backend) load(m map[string][]byte, key string, v any) error {
	b.mu.RLock()
	data, ok := m[key]
	b.mu.RUnlock()
	if !ok {
		return port.ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func (b *Backend) store(m map[string][]byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	m[key] = data
	b.mu.Unlock()
	return nil
}

func (b *Backend) LoadManifest() (*domain.Manifest, error) {
	var m domain.Manifest
	if err := b.load(b.meta, keyManifest, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (b *Backend) SaveManifest(m *domain.Manifest) error {
	return b.store(b.meta, keyManifest, m)
}

func (b *Backend) LoadShard(source string) (*domain.Shard, error) {
	var s domain.Shard
	if err := b.load(b.shards, source, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *Backend) SaveShard(shard *domain.Shard) error {
	return b.store(b.shards, shard.Source, shard)
}

func (b *Backend) LoadChunkTexts(source string) (domain.ChunkTexts, error) {
	var texts domain.ChunkTexts
	if err := b.load(b.chunks, source, &texts); err != nil {
		return nil, err
	}
	return texts, nil
}

func (b *Backend) SaveChunkTexts(source string, texts domain.ChunkTexts) error {
	return b.store(b.chunks, source, texts)
}

func (b *Backend) DeleteSource(source string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.shards, source)
	delete(b.chunks, source)
	return nil
}

// DeleteChunkTexts drops only the chunk texts of source. Tests use it to
// simulate a partially written corpus.
func (b *Backend) DeleteChunkTexts(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chunks, source)
}

// DeleteShard drops only the shard of source.
func (b *Backend) DeleteShard(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.shards, source)
}

func (b *Backend) LoadKeywordIndex() (*domain.KeywordIndex, error) {
	var idx domain.KeywordIndex
	if err := b.load(b.meta, keyKeyword, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

func (b *Backend) SaveKeywordIndex(idx *domain.KeywordIndex) error {
	return b.store(b.meta, keyKeyword, idx)
}

// SetLegacy installs a legacy single-file corpus for migration tests.
func (b *Backend) SetLegacy(vectors []port.LegacyVector) error {
	return b.store(b.meta, keyLegacy, vectors)
}

func (b *Backend) LoadLegacy() ([]port.LegacyVector, error) {
	var vectors []port.LegacyVector
	if err := b.load(b.meta, keyLegacy, &vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (b *Backend) RetireLegacy() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.meta, keyLegacy)
	return nil
}

func (b *Backend) Lock() (func() error, error) {
	b.writeMu.Lock()
	return func() error {
		b.writeMu.Unlock()
		return nil
	}, nil
}

func (b *Backend) Close() error {
	return nil
}
