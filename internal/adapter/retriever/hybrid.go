package retriever

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/logging"
	"docsearch/internal/port"
)

const (
	DefaultLimit          = 5
	DefaultRRFK           = 60
	DefaultOverfetchScale = 3
	DefaultRerankPool     = 20

	// keywordOnlyDistance is the pseudo-distance given to fused results that
	// only the keyword side retrieved.
	keywordOnlyDistance = 0.5
)

// SearchRequest is one retrieval call.
type SearchRequest struct {
	Query   string
	Limit   int
	Filter  domain.Filter
	Method  domain.Method
	RRFK    int
	Rewrite bool
	Rerank  bool
	// Embedding, when set, is used instead of embedding the query.
	Embedding []float32
}

// SearchResponse carries ranked results and per-stage timings.
type SearchResponse struct {
	Results []domain.SearchResult
	Timings domain.Timings
	// Method is the method that actually produced the results. It differs
	// from the requested one when a side was unavailable.
	Method         domain.Method
	RewrittenQuery string
	// Degraded is set when any stage fell back; Fallbacks says which.
	Degraded  bool
	Fallbacks []domain.Stage
}

func (r *SearchResponse) fellBack(stage domain.Stage) {
	r.Degraded = true
	if !slices.Contains(r.Fallbacks, stage) {
		r.Fallbacks = append(r.Fallbacks, stage)
	}
}

// HybridSearcher fuses vector and keyword retrieval with Reciprocal Rank
// Fusion. Rewriting and reranking are optional stages around it.
type HybridSearcher struct {
	vectors  port.VectorSearcher
	keywords port.KeywordSearcher
	embedder port.Embedder
	rewriter port.QueryRewriter
	reranker port.Reranker
	logger   *slog.Logger

	overfetchScale int
	rerankPool     int
}

// HybridOption configures a HybridSearcher.
type HybridOption func(*HybridSearcher)

// WithRewriter sets the query rewriter used when a request asks for it.
func WithRewriter(r port.QueryRewriter) HybridOption {
	return func(h *HybridSearcher) {
		if r != nil {
			h.rewriter = r
		}
	}
}

// WithReranker sets the reranker used when a request asks for it.
func WithReranker(r port.Reranker) HybridOption {
	return func(h *HybridSearcher) {
		if r != nil {
			h.reranker = r
		}
	}
}

// WithOverfetch sets how many candidates each side returns: limit*scale
// normally, pool when reranking.
func WithOverfetch(scale, pool int) HybridOption {
	return func(h *HybridSearcher) {
		if scale > 0 {
			h.overfetchScale = scale
		}
		if pool > 0 {
			h.rerankPool = pool
		}
	}
}

func WithHybridLogger(l *slog.Logger) HybridOption {
	return func(h *HybridSearcher) {
		h.logger = logging.OrDefault(l)
	}
}

// NewHybridSearcher creates a searcher. keywords may be nil, in which case
// every search is semantic.
func NewHybridSearcher(vectors port.VectorSearcher, keywords port.KeywordSearcher, embedder port.Embedder, opts ...HybridOption) *HybridSearcher {
	h := &HybridSearcher{
		vectors:        vectors,
		keywords:       keywords,
		embedder:       embedder,
		rewriter:       NoOpRewriter{},
		reranker:       NoOpReranker{},
		logger:         slog.Default(),
		overfetchScale: DefaultOverfetchScale,
		rerankPool:     DefaultRerankPool,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Search runs one retrieval request.
func (h *HybridSearcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	original := strings.TrimSpace(req.Query)
	if original == "" {
		return nil, docerrors.New(docerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.RRFK <= 0 {
		req.RRFK = DefaultRRFK
	}
	if req.Method == domain.MethodMultiStep {
		return nil, docerrors.ValidationError("multistep is not a single-pass method", nil)
	}

	resp := &SearchResponse{Method: req.Method}
	query := original

	if req.Rewrite {
		t := time.Now()
		out := h.rewriter.Rewrite(ctx, original)
		resp.Timings.RewriteMs = domain.Since(t)
		if out.Status == domain.OutcomeFallback {
			resp.fellBack(domain.StageRewrite)
		}
		if out.Value != "" && out.Value != original {
			query = out.Value
			resp.RewrittenQuery = query
		}
	}

	keywordReady := h.keywords != nil && h.keywords.Exists()
	if req.Method != domain.MethodSemantic && !keywordReady {
		if req.Method == domain.MethodKeyword {
			h.logger.Warn("keyword index not built, falling back to semantic search")
		}
		resp.Method = domain.MethodSemantic
	}

	var (
		results []domain.SearchResult
		err     error
	)
	switch resp.Method {
	case domain.MethodKeyword:
		results, err = h.keywordSearch(query, h.candidates(req), req.Filter, &resp.Timings)
	case domain.MethodSemantic:
		results, err = h.semanticSearch(ctx, query, req, &resp.Timings)
	default:
		results, err = h.hybridSearch(ctx, query, req, resp)
	}
	if err != nil {
		return nil, err
	}

	if req.Rerank && len(results) > req.Limit {
		t := time.Now()
		out := h.reranker.Rerank(ctx, original, results, req.Limit)
		resp.Timings.RerankMs = domain.Since(t)
		if out.Status == domain.OutcomeFallback {
			resp.fellBack(domain.StageRerank)
		}
		results = out.Value
	}
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	resp.Results = results
	resp.Timings.TotalMs = domain.Since(start)
	return resp, nil
}

// candidates is how many results each retrieval side should return.
func (h *HybridSearcher) candidates(req SearchRequest) int {
	if req.Rerank {
		return max(h.rerankPool, req.Limit)
	}
	if req.Method == domain.MethodHybrid {
		return req.Limit * h.overfetchScale
	}
	return req.Limit
}

func (h *HybridSearcher) semanticSearch(ctx context.Context, query string, req SearchRequest, timings *domain.Timings) ([]domain.SearchResult, error) {
	emb := h.embed(ctx, query, req.Embedding, timings)
	if !emb.Usable() {
		return nil, emb.Err
	}
	t := time.Now()
	results, err := h.vectors.Search(ctx, emb.Value, h.candidates(req), req.Filter)
	timings.SearchMs = domain.Since(t)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeSearchFailed, "vector search failed", err)
	}
	return results, nil
}

func (h *HybridSearcher) embed(ctx context.Context, query string, precomputed []float32, timings *domain.Timings) domain.Outcome[[]float32] {
	if precomputed != nil {
		return domain.Success(precomputed)
	}
	t := time.Now()
	out := EmbedQuery(ctx, h.embedder, query)
	timings.EmbeddingMs = domain.Since(t)
	return out
}

// EmbedQuery embeds a search query. A provider failure is fatal: there is
// no fallback vector.
func EmbedQuery(ctx context.Context, embedder port.Embedder, query string) domain.Outcome[[]float32] {
	emb, err := embedder.Embed(ctx, query)
	if err != nil {
		return domain.Fatal[[]float32](docerrors.New(docerrors.ErrCodeEmbeddingFailed, "failed to embed query", err))
	}
	return domain.Success(emb)
}

func (h *HybridSearcher) keywordSearch(query string, limit int, filter domain.Filter, timings *domain.Timings) ([]domain.SearchResult, error) {
	t := time.Now()
	hits, err := h.keywords.Search(query, limit, filter)
	timings.BM25Ms = domain.Since(t)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeSearchFailed, "keyword search failed", err)
	}
	return h.keywordResults(hits), nil
}

// keywordResults converts BM25 hits into search results. The pseudo-distance
// is 1 - score/topScore so the best hit sits at distance 0.
func (h *HybridSearcher) keywordResults(hits []domain.KeywordHit) []domain.SearchResult {
	if len(hits) == 0 {
		return nil
	}
	top := hits[0].Score
	out := make([]domain.SearchResult, len(hits))
	for i, hit := range hits {
		meta := hit.Meta.Metadata()
		dist := 1.0
		if top > 0 {
			dist = 1 - hit.Score/top
		}
		out[i] = domain.SearchResult{
			ID:       hit.DocID,
			Content:  h.vectors.ChunkContent(meta.Source, meta.ChunkIndex),
			Metadata: meta,
			Distance: dist,
		}
	}
	return out
}

// hybridSearch runs both sides concurrently. A failing side is logged and
// contributes nothing; a failed embedding degrades to keyword ranking.
func (h *HybridSearcher) hybridSearch(ctx context.Context, query string, req SearchRequest, resp *SearchResponse) ([]domain.SearchResult, error) {
	fetch := h.candidates(req)

	var (
		semantic, keyword []domain.SearchResult
		embedErr, semErr  error
		kwErr             error
		embedMs, searchMs int64
		bm25Ms            int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var t domain.Timings
		emb := h.embed(gctx, query, req.Embedding, &t)
		embedMs = t.EmbeddingMs
		if !emb.Usable() {
			embedErr = emb.Err
			return nil
		}
		start := time.Now()
		semantic, semErr = h.vectors.Search(gctx, emb.Value, fetch, req.Filter)
		searchMs = domain.Since(start)
		return nil
	})
	g.Go(func() error {
		var t domain.Timings
		keyword, kwErr = h.keywordSearch(query, fetch, req.Filter, &t)
		bm25Ms = t.BM25Ms
		return nil
	})
	_ = g.Wait()

	resp.Timings.EmbeddingMs = embedMs
	resp.Timings.SearchMs = searchMs
	resp.Timings.BM25Ms = bm25Ms

	if kwErr != nil {
		h.logger.Warn("keyword side failed", slog.String("error", kwErr.Error()))
		keyword = nil
		resp.fellBack(domain.StageKeyword)
	}
	if embedErr != nil {
		if len(keyword) == 0 {
			return nil, embedErr
		}
		h.logger.Warn("query embedding failed, degrading to keyword ranking",
			slog.String("error", embedErr.Error()))
		resp.Method = domain.MethodKeyword
		resp.fellBack(domain.StageEmbedding)
		return keyword, nil
	}
	if semErr != nil {
		h.logger.Warn("vector side failed", slog.String("error", semErr.Error()))
		semantic = nil
		resp.fellBack(domain.StageVector)
	}

	fusionLimit := req.Limit
	if req.Rerank {
		fusionLimit = fetch
	}
	t := time.Now()
	fused := ReciprocalRankFusion(semantic, keyword, req.RRFK, fusionLimit)
	resp.Timings.FusionMs = domain.Since(t)
	return fused, nil
}

// ReciprocalRankFusion merges two ranked lists. Each list adds 1/(k+rank)
// for a document, with 1-indexed ranks. Documents from the semantic list
// keep their result; keyword-only documents get distance 0.5. Ties sort by
// id ascending.
func ReciprocalRankFusion(semantic, keyword []domain.SearchResult, k, limit int) []domain.SearchResult {
	scores := make(map[string]float64, len(semantic)+len(keyword))
	byID := make(map[string]domain.SearchResult, len(semantic)+len(keyword))

	for rank, r := range semantic {
		scores[r.ID] += 1 / float64(k+rank+1)
		if _, ok := byID[r.ID]; !ok {
			byID[r.ID] = r
		}
	}
	for rank, r := range keyword {
		scores[r.ID] += 1 / float64(k+rank+1)
		if _, ok := byID[r.ID]; !ok {
			r.Distance = keywordOnlyDistance
			byID[r.ID] = r
		}
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]domain.SearchResult, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}
