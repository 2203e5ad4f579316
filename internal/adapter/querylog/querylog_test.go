package querylog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/domain"
	"docsearch/internal/logging"
)

func searchResult(source string, idx int, distance float64) domain.SearchResult {
	return domain.SearchResult{
		ID:       domain.ChunkID(source, idx),
		Metadata: domain.ChunkMetadata{Source: source, ChunkIndex: idx},
		Distance: distance,
	}
}

func TestLog_RecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", DefaultFile)
	l := New(path, logging.Discard())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	l.Record(Query{
		Original:  "FLT",
		Rewritten: "pandeo lateral torsional",
		Method:    domain.MethodHybrid,
		Filter:    domain.Filter{"coleccion": "norma"},
		TopK:      5,
		Results:   []domain.SearchResult{searchResult("cirsoc-301.pdf", 3, 0.25), searchResult("aisi.pdf", 0, 0.5)},
		Timings:   domain.Timings{TotalMs: 42},
	})
	l.Record(Query{Original: "nada", Method: domain.MethodKeyword, TopK: 5})

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	e := entries[0]
	_, err = uuid.Parse(e.QueryID)
	assert.NoError(t, err)
	assert.Equal(t, fixed, e.Timestamp)
	assert.Equal(t, "hybrid", e.SearchMethod)
	assert.Equal(t, 2, e.ResultsCount)
	assert.Equal(t, ResultRef{ID: "cirsoc-301.pdf-chunk-3", Source: "cirsoc-301.pdf", Score: 0.75, Rank: 1}, e.Results[0])
	assert.Equal(t, 2, e.Results[1].Rank)
	assert.Equal(t, "norma", e.Filter["coleccion"])
	assert.NotEqual(t, e.QueryID, entries[1].QueryID)
}

func TestLog_DisabledAndBrokenPathsNeverPanic(t *testing.T) {
	var nilLog *Log
	nilLog.Record(Query{Original: "q"})
	New("", logging.Discard()).Record(Query{Original: "q"})

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	New(filepath.Join(blocker, "queries.jsonl"), logging.Discard()).Record(Query{Original: "q"})
}

func TestRead_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	content := `{"queryId":"a","searchMethod":"bm25","timings":{"totalMs":10}}
not json

{"queryId":"b","searchMethod":"hybrid","timings":{"totalMs":30}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	entries, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	missing, err := Read(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestAnalyze(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{SearchMethod: "hybrid", Timestamp: t0.Add(time.Hour), Timings: domain.Timings{TotalMs: 100}, ResultsCount: 2,
			Results: []ResultRef{{Source: "a.pdf"}, {Source: "b.pdf"}}},
		{SearchMethod: "hybrid", Timestamp: t0, Timings: domain.Timings{TotalMs: 50}, ResultsCount: 1,
			RewrittenQuery: "x", Results: []ResultRef{{Source: "b.pdf"}}},
		{SearchMethod: "bm25", Timestamp: t0.Add(2 * time.Hour), Timings: domain.Timings{TotalMs: 0}},
	}

	s := Analyze(entries, 1)
	assert.Equal(t, 3, s.Queries)
	assert.Equal(t, map[string]int{"hybrid": 2, "bm25": 1}, s.ByMethod)
	assert.InDelta(t, 50.0, s.AvgTotalMs, 1e-9)
	assert.Equal(t, 1, s.ZeroResults)
	assert.Equal(t, 1, s.Rewritten)
	assert.Equal(t, []SourceCount{{Source: "b.pdf", Count: 2}}, s.TopSources)
	assert.Equal(t, t0, s.FirstQueryAt)
	assert.Equal(t, t0.Add(2*time.Hour), s.LastQueryAt)

	empty := Analyze(nil, 5)
	assert.Zero(t, empty.Queries)
}
