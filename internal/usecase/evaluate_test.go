package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/domain"
	"docsearch/internal/logging"
)

func TestRecallAtK(t *testing.T) {
	cases := []struct {
		name      string
		retrieved []string
		expected  []string
		want      float64
	}{
		{"perfect", []string{"a", "b", "c"}, []string{"a", "b", "c"}, 1.0},
		{"partial", []string{"a", "b", "x"}, []string{"a", "b", "c"}, 0.666},
		{"none", []string{"x", "y", "z"}, []string{"a", "b", "c"}, 0.0},
		{"nothing expected", []string{"a", "b"}, nil, 1.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, RecallAtK(tc.retrieved, tc.expected), 0.01)
		})
	}
}

func TestPrecisionAtK(t *testing.T) {
	cases := []struct {
		name      string
		retrieved []string
		expected  []string
		want      float64
	}{
		{"perfect", []string{"a", "b"}, []string{"a", "b", "c"}, 1.0},
		{"partial", []string{"a", "x", "y"}, []string{"a"}, 0.333},
		{"nothing retrieved", nil, []string{"a"}, 0.0},
		{"nothing expected", []string{"a"}, nil, 0.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, PrecisionAtK(tc.retrieved, tc.expected), 0.01)
		})
	}
}

func TestReciprocalRank(t *testing.T) {
	cases := []struct {
		name      string
		retrieved []string
		expected  []string
		want      float64
	}{
		{"first", []string{"a", "b"}, []string{"a"}, 1.0},
		{"third", []string{"x", "y", "a"}, []string{"a", "b"}, 0.333},
		{"missing", []string{"x"}, []string{"a"}, 0.0},
		{"nothing expected", nil, nil, 1.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, ReciprocalRank(tc.retrieved, tc.expected), 0.01)
		})
	}
}

func TestNDCG(t *testing.T) {
	cases := []struct {
		name      string
		retrieved []string
		expected  []string
		want      float64
	}{
		{"perfect", []string{"a", "b", "x"}, []string{"a", "b"}, 1.0},
		// dcg = 1/log2(3); idcg over one slot = 1.
		{"second place", []string{"x", "a"}, []string{"a"}, 0.631},
		{"ideal capped by retrieved", []string{"a"}, []string{"a", "b", "c"}, 1.0},
		{"none", []string{"x", "y"}, []string{"a"}, 0.0},
		{"nothing retrieved", nil, []string{"a"}, 0.0},
		{"nothing expected", []string{"x"}, nil, 1.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, NDCG(tc.retrieved, tc.expected), 0.01)
		})
	}
}

func TestEvaluateQuery_HitsAndMisses(t *testing.T) {
	r := EvaluateQuery(TestQuery{ID: "q1", Category: "normas", ExpectedSources: []string{"a", "b"}}, []string{"b", "x"})
	assert.Equal(t, []string{"b"}, r.Hits)
	assert.Equal(t, []string{"a"}, r.Misses)
	assert.InDelta(t, 0.5, r.Recall, 1e-9)
	assert.InDelta(t, 1.0, r.MRR, 1e-9)
}

func TestAggregateResults(t *testing.T) {
	results := []EvalResult{
		{QueryID: "1", Category: "normas", Recall: 1, Precision: 0.5, MRR: 1, NDCG: 1, ExpectedSources: []string{"a"}},
		{QueryID: "2", Category: "normas", Recall: 0, Precision: 0, MRR: 0, NDCG: 0, ExpectedSources: []string{"b"}},
		{QueryID: "3", Category: "software", Recall: 0.5, Precision: 1, MRR: 0.5, NDCG: 0.5, ExpectedSources: []string{"c"}},
	}

	agg := AggregateResults(results)
	assert.Equal(t, 3, agg.Count)
	assert.InDelta(t, 0.5, agg.AvgRecall, 1e-9)
	assert.InDelta(t, 0.5, agg.AvgPrecision, 1e-9)
	assert.Equal(t, CategoryStats{Count: 2, AvgRecall: 0.5, AvgMRR: 0.5}, agg.ByCategory["normas"])
	assert.Equal(t, []string{"normas", "software"}, agg.Categories())

	failed := Failed(results)
	require.Len(t, failed, 1)
	assert.Equal(t, "2", failed[0].QueryID)

	assert.Zero(t, AggregateResults(nil).Count)
}

func TestLoadGroundTruth(t *testing.T) {
	dir := t.TempDir()

	list := filepath.Join(dir, "truth.yaml")
	require.NoError(t, os.WriteFile(list, []byte(`
- id: q1
  query: pandeo lateral torsional
  category: normas
  expectedSources: [CIRSOC_301_acero.txt]
`), 0644))
	queries, err := LoadGroundTruth(list)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, []string{"CIRSOC_301_acero.txt"}, queries[0].ExpectedSources)

	doc := filepath.Join(dir, "test-set.json")
	require.NoError(t, os.WriteFile(doc, []byte(`{"version": 1, "queries": [
		{"id": "q2", "query": "tekla", "category": "software", "expectedSources": ["manual_tekla.txt"]}
	]}`), 0644))
	queries, err = LoadGroundTruth(doc)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "software", queries[0].Category)

	_, err = LoadGroundTruth(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEvaluateUseCase_Run(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	env.ingestCorpus(t)

	queries := []TestQuery{
		{ID: "q1", Query: "pandeo lateral torsional", Category: "normas", ExpectedSources: []string{"CIRSOC_301_acero.txt"}},
		{ID: "q2", Query: "conexiones metálicas en tekla", Category: "software", ExpectedSources: []string{"manual_tekla.txt"}},
		{ID: "q3", Query: "", Category: "broken", ExpectedSources: []string{"x.txt"}},
	}

	var seen int
	results, err := NewEvaluateUseCase(env.search, logging.Discard()).Run(context.Background(),
		EvalConfig{Name: "Hybrid", Method: domain.MethodHybrid, Limit: 3}, queries,
		func(EvalResult) { seen++ })
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 3, seen)

	assert.Equal(t, 1.0, results[0].MRR)
	assert.Equal(t, 1.0, results[1].Recall)
	assert.NotEmpty(t, results[2].Err, "an empty query is scored, not fatal")
	assert.Zero(t, results[2].Recall)
}

func TestComparisonConfigs(t *testing.T) {
	configs := ComparisonConfigs(5)
	require.Len(t, configs, 6)
	assert.Equal(t, domain.MethodMultiStep, configs[len(configs)-1].Method)
}
