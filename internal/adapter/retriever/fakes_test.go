package retriever

import (
	"context"
	"sync"

	"docsearch/internal/domain"
)

type fakeLLM struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	lastUser string
}

func (f *fakeLLM) Complete(_ context.Context, _, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastUser = user
	return f.reply, f.err
}

func (f *fakeLLM) ModelName() string { return "fake-llm" }

type fakeVectors struct {
	results  []domain.SearchResult
	err      error
	gotLimit int
	gotQuery []float32
}

func (f *fakeVectors) Search(_ context.Context, query []float32, limit int, filter domain.Filter) ([]domain.SearchResult, error) {
	f.gotLimit = limit
	f.gotQuery = query
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.SearchResult
	for _, r := range f.results {
		if filter.Matches(r.Metadata) {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeVectors) ChunkContent(source string, idx int) string {
	return "text of " + domain.ChunkID(source, idx)
}

type fakeKeywords struct {
	hits     []domain.KeywordHit
	exists   bool
	err      error
	gotLimit int
}

func (f *fakeKeywords) Exists() bool { return f.exists }

func (f *fakeKeywords) Search(_ string, limit int, _ domain.Filter) ([]domain.KeywordHit, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

type fakeEmbedder struct {
	mu       sync.Mutex
	err      error
	calls    int
	lastText string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake-embedder" }

func result(source string, idx int, distance float64) domain.SearchResult {
	return domain.SearchResult{
		ID:       domain.ChunkID(source, idx),
		Content:  "text of " + domain.ChunkID(source, idx),
		Metadata: domain.ChunkMetadata{Source: source, ChunkIndex: idx, SourceType: domain.SourceTypePDF},
		Distance: distance,
	}
}

func hit(source string, idx int, score float64) domain.KeywordHit {
	return domain.KeywordHit{
		DocID: domain.ChunkID(source, idx),
		Score: score,
		Meta:  domain.DocMeta{Source: source, ChunkIndex: idx, SourceType: string(domain.SourceTypePDF)},
	}
}

func ids(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}
