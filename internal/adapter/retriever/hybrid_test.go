package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
)

func TestReciprocalRankFusion(t *testing.T) {
	semantic := []domain.SearchResult{result("a.pdf", 0, 0.1), result("b.pdf", 0, 0.2)}
	keyword := []domain.SearchResult{result("b.pdf", 0, 0), result("c.pdf", 0, 0.3)}

	fused := ReciprocalRankFusion(semantic, keyword, 60, 10)

	// b appears in both lists and wins; a and c tie on 1/61 and sort by id.
	require.Equal(t, []string{"b.pdf-chunk-0", "a.pdf-chunk-0", "c.pdf-chunk-0"}, ids(fused))
	assert.Equal(t, 0.2, fused[0].Distance, "semantic result is reused as-is")
	assert.Equal(t, 0.1, fused[1].Distance)
	assert.Equal(t, keywordOnlyDistance, fused[2].Distance)
}

func TestReciprocalRankFusion_SymmetricOrder(t *testing.T) {
	a := []domain.SearchResult{result("a.pdf", 0, 0), result("b.pdf", 0, 0), result("c.pdf", 0, 0)}
	b := []domain.SearchResult{result("c.pdf", 0, 0), result("d.pdf", 0, 0)}

	assert.Equal(t, ids(ReciprocalRankFusion(a, b, 60, 0)), ids(ReciprocalRankFusion(b, a, 60, 0)))
}

func TestReciprocalRankFusion_Limit(t *testing.T) {
	semantic := []domain.SearchResult{result("a.pdf", 0, 0), result("b.pdf", 0, 0), result("c.pdf", 0, 0)}
	assert.Len(t, ReciprocalRankFusion(semantic, nil, 60, 2), 2)
}

func newHybrid(v *fakeVectors, k *fakeKeywords, e *fakeEmbedder, opts ...HybridOption) *HybridSearcher {
	return NewHybridSearcher(v, k, e, opts...)
}

func TestHybridSearch_FusesBothSides(t *testing.T) {
	v := &fakeVectors{results: []domain.SearchResult{result("a.pdf", 0, 0.1), result("b.pdf", 1, 0.3)}}
	k := &fakeKeywords{exists: true, hits: []domain.KeywordHit{hit("b.pdf", 1, 8), hit("c.pdf", 2, 4)}}
	e := &fakeEmbedder{}

	resp, err := newHybrid(v, k, e).Search(context.Background(), SearchRequest{Query: "HEB 200", Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, domain.MethodHybrid, resp.Method)
	assert.Equal(t, []string{"b.pdf-chunk-1", "a.pdf-chunk-0"}, ids(resp.Results))
	assert.Equal(t, 6, v.gotLimit, "hybrid over-fetches limit*3")
	assert.Equal(t, 6, k.gotLimit)
	assert.False(t, resp.Degraded)
	assert.Empty(t, resp.Fallbacks)
}

func TestHybridSearch_EmptyQuery(t *testing.T) {
	_, err := newHybrid(&fakeVectors{}, nil, &fakeEmbedder{}).Search(context.Background(), SearchRequest{Query: "  "})
	assert.Equal(t, docerrors.ErrCodeQueryEmpty, docerrors.GetCode(err))
}

func TestHybridSearch_KeywordMethod(t *testing.T) {
	v := &fakeVectors{}
	k := &fakeKeywords{exists: true, hits: []domain.KeywordHit{hit("a.pdf", 0, 10), hit("b.pdf", 0, 5)}}
	e := &fakeEmbedder{}

	resp, err := newHybrid(v, k, e).Search(context.Background(), SearchRequest{Query: "q", Limit: 5, Method: domain.MethodKeyword})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.InDelta(t, 0.0, resp.Results[0].Distance, 1e-9)
	assert.InDelta(t, 0.5, resp.Results[1].Distance, 1e-9)
	assert.Equal(t, "text of b.pdf-chunk-0", resp.Results[1].Content)
	assert.Zero(t, e.calls, "keyword search never embeds")
}

func TestHybridSearch_MissingKeywordIndexFallsBackToSemantic(t *testing.T) {
	v := &fakeVectors{results: []domain.SearchResult{result("a.pdf", 0, 0.1)}}
	resp, err := newHybrid(v, &fakeKeywords{exists: false}, &fakeEmbedder{}).
		Search(context.Background(), SearchRequest{Query: "q", Method: domain.MethodKeyword})
	require.NoError(t, err)
	assert.Equal(t, domain.MethodSemantic, resp.Method)
	assert.Len(t, resp.Results, 1)
}

func TestHybridSearch_SemanticEmbeddingFailureIsFatal(t *testing.T) {
	e := &fakeEmbedder{err: errors.New("boom")}
	_, err := newHybrid(&fakeVectors{}, nil, e).Search(context.Background(), SearchRequest{Query: "q", Method: domain.MethodSemantic})
	assert.Equal(t, docerrors.ErrCodeEmbeddingFailed, docerrors.GetCode(err))
}

func TestHybridSearch_EmbeddingFailureDegradesToKeyword(t *testing.T) {
	k := &fakeKeywords{exists: true, hits: []domain.KeywordHit{hit("a.pdf", 0, 3)}}
	e := &fakeEmbedder{err: errors.New("boom")}

	resp, err := newHybrid(&fakeVectors{}, k, e).Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, []domain.Stage{domain.StageEmbedding}, resp.Fallbacks)
	assert.Equal(t, domain.MethodKeyword, resp.Method)
	assert.Equal(t, []string{"a.pdf-chunk-0"}, ids(resp.Results))
}

func TestHybridSearch_EmbeddingFailureWithoutKeywordHits(t *testing.T) {
	k := &fakeKeywords{exists: true}
	e := &fakeEmbedder{err: errors.New("boom")}

	_, err := newHybrid(&fakeVectors{}, k, e).Search(context.Background(), SearchRequest{Query: "q"})
	assert.Equal(t, docerrors.ErrCodeEmbeddingFailed, docerrors.GetCode(err))
}

func TestHybridSearch_KeywordFailureKeepsSemantic(t *testing.T) {
	v := &fakeVectors{results: []domain.SearchResult{result("a.pdf", 0, 0.1)}}
	k := &fakeKeywords{exists: true, err: errors.New("corrupt")}

	resp, err := newHybrid(v, k, &fakeEmbedder{}).Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf-chunk-0"}, ids(resp.Results))
	assert.Equal(t, []domain.Stage{domain.StageKeyword}, resp.Fallbacks)
}

func TestHybridSearch_PrecomputedEmbedding(t *testing.T) {
	v := &fakeVectors{results: []domain.SearchResult{result("a.pdf", 0, 0.1)}}
	e := &fakeEmbedder{}
	emb := []float32{0, 1, 0}

	_, err := newHybrid(v, &fakeKeywords{exists: true}, e).
		Search(context.Background(), SearchRequest{Query: "q", Embedding: emb})
	require.NoError(t, err)
	assert.Zero(t, e.calls)
	assert.Equal(t, emb, v.gotQuery)
}

func TestHybridSearch_RewriteFallbackUsesOriginal(t *testing.T) {
	llm := &fakeLLM{err: errors.New("timeout")}
	e := &fakeEmbedder{}
	v := &fakeVectors{results: []domain.SearchResult{result("a.pdf", 0, 0.1)}}

	h := newHybrid(v, &fakeKeywords{exists: true}, e, WithRewriter(NewLLMRewriter(llm, 0, nil)))
	resp, err := h.Search(context.Background(), SearchRequest{Query: "FLT en vigas", Rewrite: true})
	require.NoError(t, err)

	assert.Equal(t, 1, llm.calls)
	assert.Empty(t, resp.RewrittenQuery)
	assert.True(t, resp.Degraded)
	assert.Equal(t, []domain.Stage{domain.StageRewrite}, resp.Fallbacks, "a rewrite fallback is not an embedding one")
	assert.Equal(t, "FLT en vigas", e.lastText)
}

func TestEmbedQuery_Outcome(t *testing.T) {
	out := EmbedQuery(context.Background(), &fakeEmbedder{}, "vigas")
	assert.Equal(t, domain.OutcomeSuccess, out.Status)
	assert.NotEmpty(t, out.Value)

	out = EmbedQuery(context.Background(), &fakeEmbedder{err: errors.New("boom")}, "vigas")
	assert.Equal(t, domain.OutcomeFatal, out.Status)
	assert.False(t, out.Usable())
	assert.Nil(t, out.Value)
	assert.Equal(t, docerrors.ErrCodeEmbeddingFailed, docerrors.GetCode(out.Err))
}

func TestHybridSearch_RewrittenQueryIsSearched(t *testing.T) {
	llm := &fakeLLM{reply: "pandeo lateral torsional vigas"}
	e := &fakeEmbedder{}

	h := newHybrid(&fakeVectors{}, &fakeKeywords{exists: true}, e, WithRewriter(NewLLMRewriter(llm, 0, nil)))
	resp, err := h.Search(context.Background(), SearchRequest{Query: "FLT en vigas", Rewrite: true})
	require.NoError(t, err)

	assert.Equal(t, "pandeo lateral torsional vigas", resp.RewrittenQuery)
	assert.Equal(t, "pandeo lateral torsional vigas", e.lastText)
}

func TestHybridSearch_RerankOverfetchesAndTruncates(t *testing.T) {
	var semantic []domain.SearchResult
	for i := range 10 {
		semantic = append(semantic, result("a.pdf", i, 0.1))
	}
	v := &fakeVectors{results: semantic}
	// Scores favour the last candidates.
	llm := &fakeLLM{reply: "[0, 0, 0, 0, 0, 0, 0, 0, 9, 10]"}

	h := newHybrid(v, &fakeKeywords{exists: true}, &fakeEmbedder{}, WithReranker(NewLLMReranker(llm, 0, nil)))
	resp, err := h.Search(context.Background(), SearchRequest{Query: "q", Limit: 2, Rerank: true})
	require.NoError(t, err)

	assert.Equal(t, DefaultRerankPool, v.gotLimit)
	assert.Equal(t, []string{"a.pdf-chunk-9", "a.pdf-chunk-8"}, ids(resp.Results))
}

func TestHybridSearch_RerankFallbackKeepsFusedOrder(t *testing.T) {
	var semantic []domain.SearchResult
	for i := range 5 {
		semantic = append(semantic, result("a.pdf", i, 0.1))
	}
	v := &fakeVectors{results: semantic}
	llm := &fakeLLM{err: errors.New("rate limited")}

	h := newHybrid(v, &fakeKeywords{exists: true}, &fakeEmbedder{}, WithReranker(NewLLMReranker(llm, 0, nil)))
	resp, err := h.Search(context.Background(), SearchRequest{Query: "q", Limit: 2, Rerank: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.pdf-chunk-0", "a.pdf-chunk-1"}, ids(resp.Results))
	assert.True(t, resp.Degraded)
	assert.Equal(t, []domain.Stage{domain.StageRerank}, resp.Fallbacks)
	assert.Equal(t, domain.MethodHybrid, resp.Method)
}

func TestHybridSearch_MultiStepRejected(t *testing.T) {
	_, err := newHybrid(&fakeVectors{}, nil, &fakeEmbedder{}).
		Search(context.Background(), SearchRequest{Query: "q", Method: domain.MethodMultiStep})
	assert.Equal(t, docerrors.ErrCodeInvalidInput, docerrors.GetCode(err))
}
