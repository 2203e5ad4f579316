package port

import (
	"context"

	"docsearch/internal/domain"
)

// VectorSearcher runs exhaustive similarity search over stored embeddings.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, limit int, filter domain.Filter) ([]domain.SearchResult, error)
	ChunkContent(source string, chunkIndex int) string
}

// KeywordSearcher ranks documents by BM25.
type KeywordSearcher interface {
	// Exists reports whether a keyword index has been built.
	Exists() bool
	Search(query string, limit int, filter domain.Filter) ([]domain.KeywordHit, error)
}

// DiversityFilter caps how many results a single source may contribute.
type DiversityFilter interface {
	Diversify(results []domain.SearchResult, limit int) []domain.SearchResult
}
