package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/logging"
	"docsearch/internal/port"
)

const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// ChunkSource lists every stored chunk. The vector store implements it.
type ChunkSource interface {
	AllChunks(ctx context.Context) ([]domain.Chunk, error)
}

// KeywordIndex is an Okapi BM25 index over every stored chunk. The index is
// built from the vector store, persisted as one artifact through the
// backend, and memoized after the first load.
type KeywordIndex struct {
	backend   port.Backend
	chunks    ChunkSource
	tokenizer port.Tokenizer
	k1        float64
	b         float64
	logger    *slog.Logger

	mu  sync.RWMutex
	idx *domain.KeywordIndex
}

// KeywordOption configures a KeywordIndex.
type KeywordOption func(*KeywordIndex)

// WithBM25Params overrides k1 and b.
func WithBM25Params(k1, b float64) KeywordOption {
	return func(k *KeywordIndex) {
		k.k1 = k1
		k.b = b
	}
}

// WithKeywordLogger sets the logger.
func WithKeywordLogger(l *slog.Logger) KeywordOption {
	return func(k *KeywordIndex) {
		k.logger = logging.OrDefault(l)
	}
}

func NewKeywordIndex(backend port.Backend, chunks ChunkSource, tokenizer port.Tokenizer, opts ...KeywordOption) *KeywordIndex {
	k := &KeywordIndex{
		backend:   backend,
		chunks:    chunks,
		tokenizer: tokenizer,
		k1:        DefaultK1,
		b:         DefaultB,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Build indexes every chunk currently in the vector store and replaces the
// in-memory index. It does not persist; call Save.
func (k *KeywordIndex) Build(ctx context.Context) (*domain.KeywordIndex, error) {
	start := time.Now()
	chunks, err := k.chunks.AllChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	idx := domain.NewKeywordIndex()
	totalLength := 0
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tokens := k.tokenizer.Tokenize(c.Content)

		idx.TotalDocs++
		idx.DocLengths[c.ID] = len(tokens)
		idx.DocMeta[c.ID] = docMetaFor(c.Metadata)
		totalLength += len(tokens)

		freqs := make(map[string]int)
		for _, t := range tokens {
			freqs[t]++
		}
		for term, tf := range freqs {
			entry, ok := idx.Terms[term]
			if !ok {
				entry = &domain.TermEntry{Postings: make(map[string]int)}
				idx.Terms[term] = entry
			}
			entry.Postings[c.ID] = tf
			entry.DF = len(entry.Postings)
		}
	}
	if idx.TotalDocs > 0 {
		idx.AvgDocLength = float64(totalLength) / float64(idx.TotalDocs)
	}

	k.mu.Lock()
	k.idx = idx
	k.mu.Unlock()

	k.logger.Info("keyword index built",
		slog.Int("docs", idx.TotalDocs),
		slog.Int("terms", len(idx.Terms)),
		slog.Duration("elapsed", time.Since(start)))
	return idx, nil
}

// docMetaFor keeps the filterable tags of a chunk.
func docMetaFor(m domain.ChunkMetadata) domain.DocMeta {
	tags := make(map[string]string)
	for _, key := range []string{
		domain.FieldTitle, domain.FieldOriginStandard, domain.FieldLanguage,
		domain.FieldTopic, domain.FieldCollection,
	} {
		if v := m.Field(key); v != "" {
			tags[key] = v
		}
	}
	return domain.DocMeta{
		Source:     m.Source,
		ChunkIndex: m.ChunkIndex,
		SourceType: string(m.SourceType),
		Tags:       tags,
	}
}

// Save persists the in-memory index.
func (k *KeywordIndex) Save() error {
	k.mu.RLock()
	idx := k.idx
	k.mu.RUnlock()
	if idx == nil {
		return docerrors.ErrNoKeywordIndex
	}

	unlock, err := k.backend.Lock()
	if err != nil {
		return err
	}
	defer unlock()
	return k.backend.SaveKeywordIndex(idx)
}

// Rebuild builds and saves the index.
func (k *KeywordIndex) Rebuild(ctx context.Context) error {
	if _, err := k.Build(ctx); err != nil {
		return err
	}
	return k.Save()
}

// Load returns the memoized index, reading it from the backend on first use.
// It returns ErrNoKeywordIndex when none has been built.
func (k *KeywordIndex) Load() (*domain.KeywordIndex, error) {
	k.mu.RLock()
	idx := k.idx
	k.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	start := time.Now()
	idx, err := k.backend.LoadKeywordIndex()
	if errors.Is(err, port.ErrNotFound) {
		return nil, docerrors.ErrNoKeywordIndex
	}
	if err != nil {
		return nil, err
	}
	if idx.Terms == nil {
		idx.Terms = make(map[string]*domain.TermEntry)
	}

	k.mu.Lock()
	k.idx = idx
	k.mu.Unlock()

	k.logger.Debug("keyword index loaded",
		slog.Int("docs", idx.TotalDocs),
		slog.Int("terms", len(idx.Terms)),
		slog.Duration("elapsed", time.Since(start)))
	return idx, nil
}

// Invalidate drops the memoized index so the next Load reads the backend.
func (k *KeywordIndex) Invalidate() {
	k.mu.Lock()
	k.idx = nil
	k.mu.Unlock()
}

// Exists reports whether an index is built or persisted.
func (k *KeywordIndex) Exists() bool {
	_, err := k.Load()
	return err == nil
}

// Search ranks documents containing at least one query term by BM25.
// Documents that fail filter or score 0 are left out. Ties are broken by
// document id.
func (k *KeywordIndex) Search(query string, limit int, filter domain.Filter) ([]domain.KeywordHit, error) {
	idx, err := k.Load()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	queryTokens := k.tokenizer.Tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	candidates := make(map[string]struct{})
	for _, term := range queryTokens {
		if entry, ok := idx.Terms[term]; ok {
			for docID := range entry.Postings {
				candidates[docID] = struct{}{}
			}
		}
	}

	hits := make([]domain.KeywordHit, 0, len(candidates))
	for docID := range candidates {
		meta, ok := idx.DocMeta[docID]
		if !ok {
			continue
		}
		if len(filter) > 0 && !filter.MatchesFields(meta.Fields()) {
			continue
		}
		score := k.score(idx, queryTokens, docID)
		if score > 0 {
			hits = append(hits, domain.KeywordHit{DocID: docID, Score: score, Meta: meta})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// score sums the BM25 contribution of every query token, repeated tokens
// included.
func (k *KeywordIndex) score(idx *domain.KeywordIndex, queryTokens []string, docID string) float64 {
	dl := float64(idx.DocLengths[docID])
	avgDl := idx.AvgDocLength
	if avgDl == 0 {
		avgDl = 1
	}
	n := float64(idx.TotalDocs)

	score := 0.0
	for _, term := range queryTokens {
		entry, ok := idx.Terms[term]
		if !ok {
			continue
		}
		tf := float64(entry.Postings[docID])
		if tf == 0 {
			continue
		}
		df := float64(entry.DF)
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		score += idf * (tf * (k.k1 + 1)) / (tf + k.k1*(1-k.b+k.b*dl/avgDl))
	}
	return score
}
