package port

import (
	"context"

	"docsearch/internal/domain"
)

// LLM is a chat model used for rewriting and reranking.
type LLM interface {
	// Complete sends a system and a user message and returns the reply text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// QueryRewriter normalizes a query before retrieval. It never blocks a
// search: on failure the outcome is a fallback carrying the input query.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string) domain.Outcome[string]
}

// Reranker reorders candidates by relevance and keeps the best topN.
// On failure the outcome is a fallback carrying the input order truncated to topN.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.SearchResult, topN int) domain.Outcome[[]domain.SearchResult]
}
