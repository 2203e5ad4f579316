// Package store persists embeddings and chunk texts and runs exhaustive
// cosine similarity search over them.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/logging"
	"docsearch/internal/port"
)

// DefaultManifestTTL bounds how stale a cached manifest may be.
const DefaultManifestTTL = 5 * time.Second

// VectorStore is the similarity-searchable corpus. All caches are instance
// state; a cached shard is dropped whenever a reloaded manifest shows its
// source was re-indexed or removed.
type VectorStore struct {
	backend port.Backend
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.RWMutex
	manifest   *domain.Manifest
	manifestAt time.Time
	shards     map[string]*domain.Shard
	texts      map[string]domain.ChunkTexts

	generation atomic.Uint64
}

// VectorStoreOption configures a VectorStore.
type VectorStoreOption func(*VectorStore)

// WithManifestTTL sets the manifest cache lifetime. Zero disables caching.
func WithManifestTTL(ttl time.Duration) VectorStoreOption {
	return func(s *VectorStore) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) VectorStoreOption {
	return func(s *VectorStore) {
		s.logger = logging.OrDefault(l)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VectorStoreOption {
	return func(s *VectorStore) {
		s.now = now
	}
}

// NewVectorStore creates a store over backend.
func NewVectorStore(backend port.Backend, opts ...VectorStoreOption) *VectorStore {
	s := &VectorStore{
		backend: backend,
		ttl:     DefaultManifestTTL,
		logger:  slog.Default(),
		now:     time.Now,
		shards:  make(map[string]*domain.Shard),
		texts:   make(map[string]domain.ChunkTexts),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the persistence backend.
func (s *VectorStore) Backend() port.Backend {
	return s.backend
}

// Generation increases on every write made through this store.
func (s *VectorStore) Generation() uint64 {
	return s.generation.Load()
}

// Close closes the backend.
func (s *VectorStore) Close() error {
	return s.backend.Close()
}

// Refresh drops every cache so the next read goes to the backend.
func (s *VectorStore) Refresh() {
	s.mu.Lock()
	s.manifest = nil
	s.shards = make(map[string]*domain.Shard)
	s.texts = make(map[string]domain.ChunkTexts)
	s.mu.Unlock()
	s.generation.Add(1)
}

// loadManifest reads the manifest from the backend. A missing manifest is an
// empty corpus at the current schema version.
func (s *VectorStore) loadManifest() (*domain.Manifest, error) {
	m, err := s.backend.LoadManifest()
	if errors.Is(err, port.ErrNotFound) {
		return &domain.Manifest{Version: CurrentSchemaVersion}, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *VectorStore) currentManifest() (*domain.Manifest, error) {
	s.mu.RLock()
	if s.manifest != nil && s.now().Sub(s.manifestAt) < s.ttl {
		m := s.manifest
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	m, err := s.loadManifest()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.evictStale(m)
	s.manifest = m
	s.manifestAt = s.now()
	s.mu.Unlock()
	return m, nil
}

// evictStale drops cached shards and texts whose manifest entry changed.
// Callers hold s.mu.
func (s *VectorStore) evictStale(next *domain.Manifest) {
	if s.manifest == nil {
		return
	}
	for _, old := range s.manifest.Sources {
		cur, ok := next.Find(old.Name)
		if !ok || !cur.IndexedAt.Equal(old.IndexedAt) || cur.Chunks != old.Chunks {
			delete(s.shards, old.Name)
			delete(s.texts, old.Name)
		}
	}
}

func (s *VectorStore) shard(source string) (*domain.Shard, error) {
	s.mu.RLock()
	sh, ok := s.shards[source]
	s.mu.RUnlock()
	if ok {
		return sh, nil
	}

	sh, err := s.backend.LoadShard(source)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.shards[source] = sh
	s.mu.Unlock()
	return sh, nil
}

// searchableShard loads a shard for a corpus-wide read. A missing or
// unreadable shard is logged and skipped.
func (s *VectorStore) searchableShard(source string) (*domain.Shard, bool) {
	sh, err := s.shard(source)
	switch {
	case err == nil:
		return sh, true
	case errors.Is(err, port.ErrNotFound):
		s.logger.Warn("manifest entry without shard", slog.String("source", source))
	default:
		s.logger.Warn("skipping unreadable shard", slog.String("source", source), slog.String("error", err.Error()))
	}
	return nil, false
}

func (s *VectorStore) chunkTexts(source string) (domain.ChunkTexts, error) {
	s.mu.RLock()
	t, ok := s.texts[source]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := s.backend.LoadChunkTexts(source)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.texts[source] = t
	s.mu.Unlock()
	return t, nil
}

// Add stores chunks with their embeddings. Vectors whose id is already
// present in the source's shard are replaced, so re-ingesting a source is
// idempotent.
func (s *VectorStore) Add(ctx context.Context, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return docerrors.ValidationError(
			fmt.Sprintf("chunks and embeddings length mismatch: %d != %d", len(chunks), len(embeddings)), nil)
	}
	if len(chunks) == 0 {
		return nil
	}

	unlock, err := s.backend.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	// Re-read under the lock so a concurrent writer's entries survive.
	manifest, err := s.loadManifest()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	var order []string
	bySource := make(map[string][]int)
	for i, c := range chunks {
		if _, ok := bySource[c.Metadata.Source]; !ok {
			order = append(order, c.Metadata.Source)
		}
		bySource[c.Metadata.Source] = append(bySource[c.Metadata.Source], i)
	}

	written := make(map[string]*domain.Shard, len(order))
	writtenTexts := make(map[string]domain.ChunkTexts, len(order))
	for _, source := range order {
		shard, texts, err := s.loadForWrite(source)
		if err != nil {
			return err
		}
		written[source] = shard
		writtenTexts[source] = texts
	}
	if err := checkStorageKeys(order); err != nil {
		return err
	}

	for _, source := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		shard, texts := written[source], writtenTexts[source]

		vectors := make([]domain.IndexedVector, 0, len(bySource[source]))
		for _, i := range bySource[source] {
			vectors = append(vectors, domain.IndexedVector{
				ID:        chunks[i].ID,
				Embedding: embeddings[i],
				Metadata:  chunks[i].Metadata,
			})
			texts[chunks[i].Metadata.ChunkIndex] = chunks[i].Content
		}
		mergeVectors(shard, vectors)

		if err := s.backend.SaveShard(shard); err != nil {
			return fmt.Errorf("failed to save shard for %s: %w", source, err)
		}
		if err := s.backend.SaveChunkTexts(source, texts); err != nil {
			return fmt.Errorf("failed to save chunk texts for %s: %w", source, err)
		}

		manifest.Upsert(domain.SourceEntry{
			Name:      source,
			Chunks:    len(shard.Documents),
			IndexedAt: s.now().UTC(),
		})
	}

	if err := s.backend.SaveManifest(manifest); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}

	s.mu.Lock()
	for source, shard := range written {
		s.shards[source] = shard
		s.texts[source] = writtenTexts[source]
	}
	s.manifest = manifest
	s.manifestAt = s.now()
	s.mu.Unlock()
	s.generation.Add(1)

	s.logger.Debug("stored vectors", slog.Int("chunks", len(chunks)), slog.Int("sources", len(order)))
	return nil
}

// loadForWrite returns fresh copies of a source's shard and texts straight
// from the backend, or empty ones for a new source.
func (s *VectorStore) loadForWrite(source string) (*domain.Shard, domain.ChunkTexts, error) {
	shard, err := s.backend.LoadShard(source)
	if errors.Is(err, port.ErrNotFound) {
		shard = &domain.Shard{Source: source}
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to load shard for %s: %w", source, err)
	}
	if shard.Source != "" && shard.Source != source {
		return nil, nil, storageKeyCollision(source, shard.Source)
	}

	texts, err := s.backend.LoadChunkTexts(source)
	if errors.Is(err, port.ErrNotFound) {
		texts = make(domain.ChunkTexts)
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to load chunk texts for %s: %w", source, err)
	}
	return shard, texts, nil
}

// checkStorageKeys rejects a batch holding two sources that map to the same
// shard file name.
func checkStorageKeys(sources []string) error {
	seen := make(map[string]string, len(sources))
	for _, source := range sources {
		key := SafeName(source)
		if other, ok := seen[key]; ok {
			return storageKeyCollision(source, other)
		}
		seen[key] = source
	}
	return nil
}

func storageKeyCollision(source, existing string) error {
	return docerrors.ValidationError(
		fmt.Sprintf("source %q shares its storage name with %q", source, existing), nil).
		WithDetail("storage_name", SafeName(source)).
		WithSuggestion("rename one of the files")
}

// mergeVectors replaces vectors with matching ids and appends the rest.
func mergeVectors(shard *domain.Shard, vectors []domain.IndexedVector) {
	pos := make(map[string]int, len(shard.Documents))
	for i, d := range shard.Documents {
		pos[d.ID] = i
	}
	for _, v := range vectors {
		if i, ok := pos[v.ID]; ok {
			shard.Documents[i] = v
			continue
		}
		pos[v.ID] = len(shard.Documents)
		shard.Documents = append(shard.Documents, v)
	}
}

type scoredVector struct {
	vector *domain.IndexedVector
	score  float64
}

// Search returns the limit vectors most similar to query that pass filter.
// An empty corpus yields no results and no error.
func (s *VectorStore) Search(ctx context.Context, query []float32, limit int, filter domain.Filter) ([]domain.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	manifest, err := s.currentManifest()
	if err != nil {
		return nil, err
	}
	if len(manifest.Sources) == 0 {
		return nil, nil
	}

	var (
		scored     []scoredVector
		mismatched int
	)
	for _, entry := range manifest.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		shard, ok := s.searchableShard(entry.Name)
		if !ok {
			continue
		}

		for i := range shard.Documents {
			doc := &shard.Documents[i]
			if !filter.Matches(doc.Metadata) {
				continue
			}
			if len(doc.Embedding) != len(query) {
				mismatched++
			}
			scored = append(scored, scoredVector{vector: doc, score: cosineSimilarity(query, doc.Embedding)})
		}
	}
	if mismatched > 0 {
		s.logger.Warn("stored vectors with a different dimension scored as 0",
			slog.Int("count", mismatched), slog.Int("query_dim", len(query)))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].vector.ID < scored[j].vector.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	results := make([]domain.SearchResult, len(scored))
	for i, sv := range scored {
		results[i] = domain.SearchResult{
			ID:       sv.vector.ID,
			Content:  s.ChunkContent(sv.vector.Metadata.Source, sv.vector.Metadata.ChunkIndex),
			Metadata: sv.vector.Metadata,
			Distance: 1 - sv.score,
		}
	}
	return results, nil
}

// ChunkContent returns the text of one chunk, or domain.ContentUnavailable.
func (s *VectorStore) ChunkContent(source string, chunkIndex int) string {
	texts, err := s.chunkTexts(source)
	if err != nil {
		if !errors.Is(err, port.ErrNotFound) {
			s.logger.Warn("failed to load chunk texts", slog.String("source", source), slog.String("error", err.Error()))
		}
		return domain.ContentUnavailable
	}
	text, ok := texts[chunkIndex]
	if !ok {
		return domain.ContentUnavailable
	}
	return text
}

// IsIndexed reports whether source has a manifest entry.
func (s *VectorStore) IsIndexed(source string) (bool, error) {
	m, err := s.currentManifest()
	if err != nil {
		return false, err
	}
	_, ok := m.Find(source)
	return ok, nil
}

// DeleteBySource removes a source. It reports whether the source existed.
func (s *VectorStore) DeleteBySource(ctx context.Context, source string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	unlock, err := s.backend.Lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	manifest, err := s.loadManifest()
	if err != nil {
		return false, fmt.Errorf("failed to load manifest: %w", err)
	}
	removed := manifest.Remove(source)

	if err := s.backend.DeleteSource(source); err != nil {
		return false, err
	}
	if removed {
		if err := s.backend.SaveManifest(manifest); err != nil {
			return false, fmt.Errorf("failed to save manifest: %w", err)
		}
	}

	s.mu.Lock()
	delete(s.shards, source)
	delete(s.texts, source)
	s.manifest = manifest
	s.manifestAt = s.now()
	s.mu.Unlock()
	s.generation.Add(1)
	return removed, nil
}

// Stats summarizes the corpus from the manifest.
func (s *VectorStore) Stats() (domain.Stats, error) {
	m, err := s.currentManifest()
	if err != nil {
		return domain.Stats{}, err
	}
	sources := make([]domain.SourceEntry, len(m.Sources))
	copy(sources, m.Sources)
	return domain.Stats{TotalChunks: m.TotalChunks(), Sources: sources}, nil
}

// Sources lists indexed source names in manifest order.
func (s *VectorStore) Sources() ([]string, error) {
	m, err := s.currentManifest()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(m.Sources))
	for i, e := range m.Sources {
		names[i] = e.Name
	}
	return names, nil
}

// AllChunks returns every stored chunk with its text and metadata, in
// manifest then shard order.
func (s *VectorStore) AllChunks(ctx context.Context) ([]domain.Chunk, error) {
	m, err := s.currentManifest()
	if err != nil {
		return nil, err
	}

	var chunks []domain.Chunk
	for _, entry := range m.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		shard, ok := s.searchableShard(entry.Name)
		if !ok {
			continue
		}
		for _, doc := range shard.Documents {
			chunks = append(chunks, domain.Chunk{
				ID:       doc.ID,
				Content:  s.ChunkContent(entry.Name, doc.Metadata.ChunkIndex),
				Metadata: doc.Metadata,
			})
		}
	}
	return chunks, nil
}

// cosineSimilarity returns 0 for vectors of different length or zero norm.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
