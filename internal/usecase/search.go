package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"docsearch/internal/adapter/cache"
	"docsearch/internal/adapter/querylog"
	"docsearch/internal/adapter/retriever"
	"docsearch/internal/adapter/store"
	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/logging"
	"docsearch/internal/port"
)

// Status tells a caller whether results can be expected at all.
type Status string

const (
	StatusOK          Status = "ok"
	StatusEmptyCorpus Status = "empty_corpus"
)

// SearchRequest is a caller-facing search.
type SearchRequest struct {
	Query   string
	Limit   int
	Filter  domain.Filter
	Method  domain.Method
	Rewrite bool
	Rerank  bool
	// MaxPerSource only applies to MethodMultiStep.
	MaxPerSource int
}

// SearchResponse is what callers receive for both single-pass and
// multi-step searches.
type SearchResponse struct {
	Status         Status                `json:"status"`
	Query          string                `json:"query"`
	RewrittenQuery string                `json:"rewrittenQuery,omitempty"`
	Method         domain.Method         `json:"method"`
	Results        []domain.SearchResult `json:"results"`
	Timings        domain.Timings        `json:"timings"`
	Degraded       bool                  `json:"degraded,omitempty"`
	Fallbacks      []domain.Stage        `json:"fallbacks,omitempty"`
	Cached         bool                  `json:"cached,omitempty"`
	TotalChunks    int                   `json:"totalChunks"`

	// Set by multi-step searches.
	DetectedCollection domain.Collection `json:"detectedCollection,omitempty"`
	Steps              int               `json:"steps,omitempty"`
}

// SearchUseCase is the entry point for queries and corpus maintenance.
type SearchUseCase struct {
	store    *store.VectorStore
	keywords *retriever.KeywordIndex
	searcher *retriever.HybridSearcher
	embedder port.Embedder
	rewriter port.QueryRewriter

	rrfK         int
	maxPerSource int
	cache        *cache.ResultCache[*SearchResponse]
	queryLog     *querylog.Log
	logger       *slog.Logger
}

// SearchOption configures a SearchUseCase.
type SearchOption func(*SearchUseCase)

// WithResultCache serves repeated searches from c until the store changes.
func WithResultCache(c *cache.ResultCache[*SearchResponse]) SearchOption {
	return func(u *SearchUseCase) { u.cache = c }
}

// WithQueryLog records every search in l.
func WithQueryLog(l *querylog.Log) SearchOption {
	return func(u *SearchUseCase) { u.queryLog = l }
}

// WithMultiStepRewriter sets the rewriter used once per multi-step search.
func WithMultiStepRewriter(r port.QueryRewriter) SearchOption {
	return func(u *SearchUseCase) {
		if r != nil {
			u.rewriter = r
		}
	}
}

func WithRRFK(k int) SearchOption {
	return func(u *SearchUseCase) {
		if k > 0 {
			u.rrfK = k
		}
	}
}

// WithDefaultMaxPerSource sets the source cap used when a multi-step
// request leaves it at zero.
func WithDefaultMaxPerSource(n int) SearchOption {
	return func(u *SearchUseCase) {
		if n > 0 {
			u.maxPerSource = n
		}
	}
}

func WithSearchLogger(l *slog.Logger) SearchOption {
	return func(u *SearchUseCase) { u.logger = logging.OrDefault(l) }
}

func NewSearchUseCase(
	st *store.VectorStore,
	keywords *retriever.KeywordIndex,
	searcher *retriever.HybridSearcher,
	embedder port.Embedder,
	opts ...SearchOption,
) *SearchUseCase {
	u := &SearchUseCase{
		store:        st,
		keywords:     keywords,
		searcher:     searcher,
		embedder:     embedder,
		rewriter:     retriever.NoOpRewriter{},
		rrfK:         retriever.DefaultRRFK,
		maxPerSource: retriever.DefaultMaxPerSource,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Search runs one query. An empty corpus is reported through Status, not
// as an error.
func (u *SearchUseCase) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Method == domain.MethodMultiStep {
		return u.MultiStepSearch(ctx, MultiStepRequest{
			Query:        req.Query,
			Limit:        req.Limit,
			Filter:       req.Filter,
			Rewrite:      req.Rewrite,
			MaxPerSource: req.MaxPerSource,
		})
	}

	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, docerrors.New(docerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if req.Limit <= 0 {
		req.Limit = retriever.DefaultLimit
	}

	total, err := u.totalChunks()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		resp := &SearchResponse{
			Status:  StatusEmptyCorpus,
			Query:   query,
			Method:  req.Method,
			Results: []domain.SearchResult{},
		}
		resp.Timings.TotalMs = domain.Since(start)
		u.record(resp, req.Filter, req.Limit)
		return resp, nil
	}

	key := cache.Key{
		Query:   query,
		Method:  req.Method,
		Limit:   req.Limit,
		Filter:  req.Filter,
		Rewrite: req.Rewrite,
		Rerank:  req.Rerank,
	}
	if resp, ok := u.cached(key); ok {
		return resp, nil
	}
	generation := u.store.Generation()

	out, err := u.searcher.Search(ctx, retriever.SearchRequest{
		Query:   query,
		Limit:   req.Limit,
		Filter:  req.Filter,
		Method:  req.Method,
		RRFK:    u.rrfK,
		Rewrite: req.Rewrite,
		Rerank:  req.Rerank,
	})
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		Status:         StatusOK,
		Query:          query,
		RewrittenQuery: out.RewrittenQuery,
		Method:         out.Method,
		Results:        out.Results,
		Timings:        out.Timings,
		Degraded:       out.Degraded,
		Fallbacks:      out.Fallbacks,
		TotalChunks:    total,
	}
	if u.cache != nil && !resp.Degraded {
		u.cache.Put(key, generation, resp)
	}
	u.record(resp, req.Filter, req.Limit)
	return resp, nil
}

func (u *SearchUseCase) cached(key cache.Key) (*SearchResponse, bool) {
	if u.cache == nil {
		return nil, false
	}
	resp, ok := u.cache.Get(key, u.store.Generation())
	if !ok {
		return nil, false
	}
	hit := *resp
	hit.Cached = true
	u.logger.Debug("search served from cache", slog.String("query", key.Query))
	return &hit, true
}

func (u *SearchUseCase) totalChunks() (int, error) {
	stats, err := u.store.Stats()
	if err != nil {
		return 0, err
	}
	return stats.TotalChunks, nil
}

func (u *SearchUseCase) record(resp *SearchResponse, filter domain.Filter, topK int) {
	u.queryLog.Record(querylog.Query{
		Original:  resp.Query,
		Rewritten: resp.RewrittenQuery,
		Method:    resp.Method,
		Filter:    filter,
		TopK:      topK,
		Results:   resp.Results,
		Timings:   resp.Timings,
	})
}

// Indexed reports whether source is in the corpus.
func (u *SearchUseCase) Indexed(source string) (bool, error) {
	return u.store.IsIndexed(source)
}

// DeleteSource removes a source and rebuilds the keyword index so keyword
// search stops returning it. It reports whether the source existed.
func (u *SearchUseCase) DeleteSource(ctx context.Context, source string) (bool, error) {
	removed, err := u.store.DeleteBySource(ctx, source)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	if err := u.keywords.Rebuild(ctx); err != nil {
		return true, err
	}
	if u.cache != nil {
		u.cache.Purge()
	}
	u.logger.Info("source deleted", slog.String("source", source))
	return true, nil
}

// Stats summarizes the corpus.
func (u *SearchUseCase) Stats() (domain.Stats, error) {
	return u.store.Stats()
}

// KeywordIndexReady reports whether keyword search is available.
func (u *SearchUseCase) KeywordIndexReady() bool {
	return u.keywords.Exists()
}
