package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
)

// TestQuery is one ground-truth entry.
type TestQuery struct {
	ID              string   `yaml:"id" json:"id"`
	Query           string   `yaml:"query" json:"query"`
	Category        string   `yaml:"category" json:"category"`
	ExpectedSources []string `yaml:"expectedSources" json:"expectedSources"`
}

// LoadGroundTruth reads a ground-truth file. It accepts either a plain list
// of queries or a document with a "queries" key; JSON test sets parse too.
func LoadGroundTruth(path string) ([]TestQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeFileNotFound, "failed to read ground truth", err).
			WithDetail("path", path)
	}

	var list []TestQuery
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Queries []TestQuery `yaml:"queries"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, docerrors.ValidationError("invalid ground truth file", err).WithDetail("path", path)
	}
	return doc.Queries, nil
}

// EvalConfig is one search configuration to evaluate.
type EvalConfig struct {
	Name    string
	Method  domain.Method
	Rewrite bool
	Rerank  bool
	Limit   int
}

// ComparisonConfigs are the configurations compared by a full evaluation.
func ComparisonConfigs(limit int) []EvalConfig {
	return []EvalConfig{
		{Name: "Semantic only", Method: domain.MethodSemantic, Limit: limit},
		{Name: "Semantic + Rewrite", Method: domain.MethodSemantic, Rewrite: true, Limit: limit},
		{Name: "Hybrid (RRF)", Method: domain.MethodHybrid, Limit: limit},
		{Name: "Hybrid + Rewrite", Method: domain.MethodHybrid, Rewrite: true, Limit: limit},
		{Name: "Hybrid + Rewrite + Rerank", Method: domain.MethodHybrid, Rewrite: true, Rerank: true, Limit: limit},
		{Name: "MultiStep + Rewrite", Method: domain.MethodMultiStep, Rewrite: true, Limit: limit},
	}
}

// EvalResult holds the metrics of one query.
type EvalResult struct {
	QueryID          string   `json:"queryId"`
	Query            string   `json:"query"`
	Category         string   `json:"category"`
	Recall           float64  `json:"recall"`
	Precision        float64  `json:"precision"`
	MRR              float64  `json:"mrr"`
	NDCG             float64  `json:"ndcg"`
	RetrievedSources []string `json:"retrievedSources"`
	ExpectedSources  []string `json:"expectedSources"`
	Hits             []string `json:"hits"`
	Misses           []string `json:"misses"`
	Err              string   `json:"error,omitempty"`
}

// CategoryStats aggregates one category.
type CategoryStats struct {
	Count     int     `json:"count"`
	AvgRecall float64 `json:"avgRecall"`
	AvgMRR    float64 `json:"avgMRR"`
}

// Aggregate summarises a set of evaluated queries.
type Aggregate struct {
	Count        int                      `json:"count"`
	AvgRecall    float64                  `json:"avgRecall"`
	AvgPrecision float64                  `json:"avgPrecision"`
	AvgMRR       float64                  `json:"avgMRR"`
	AvgNDCG      float64                  `json:"avgNDCG"`
	ByCategory   map[string]CategoryStats `json:"byCategory"`
}

// EvaluateUseCase runs a ground-truth set through the search facade.
type EvaluateUseCase struct {
	search *SearchUseCase
	logger *slog.Logger
}

func NewEvaluateUseCase(search *SearchUseCase, logger *slog.Logger) *EvaluateUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluateUseCase{search: search, logger: logger}
}

// Run evaluates every query under cfg. A failing query is scored with no
// retrieved sources instead of aborting the run; only context cancellation
// stops it early.
func (u *EvaluateUseCase) Run(ctx context.Context, cfg EvalConfig, queries []TestQuery, progress func(EvalResult)) ([]EvalResult, error) {
	results := make([]EvalResult, 0, len(queries))
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		resp, err := u.search.Search(ctx, SearchRequest{
			Query:   q.Query,
			Limit:   cfg.Limit,
			Method:  cfg.Method,
			Rewrite: cfg.Rewrite,
			Rerank:  cfg.Rerank,
		})

		var r EvalResult
		if err != nil {
			u.logger.Warn("evaluation query failed", slog.String("id", q.ID), slog.String("error", err.Error()))
			r = EvaluateQuery(q, nil)
			r.Err = err.Error()
		} else {
			r = EvaluateQuery(q, distinctSources(resp.Results))
		}
		results = append(results, r)
		if progress != nil {
			progress(r)
		}
	}
	return results, nil
}

func distinctSources(results []domain.SearchResult) []string {
	seen := make(map[string]bool, len(results))
	var out []string
	for _, r := range results {
		if !seen[r.Metadata.Source] {
			seen[r.Metadata.Source] = true
			out = append(out, r.Metadata.Source)
		}
	}
	return out
}

// EvaluateQuery scores retrieved sources against the expected ones.
func EvaluateQuery(q TestQuery, retrieved []string) EvalResult {
	retrievedSet := toSet(retrieved)
	r := EvalResult{
		QueryID:          q.ID,
		Query:            q.Query,
		Category:         q.Category,
		Recall:           RecallAtK(retrieved, q.ExpectedSources),
		Precision:        PrecisionAtK(retrieved, q.ExpectedSources),
		MRR:              ReciprocalRank(retrieved, q.ExpectedSources),
		NDCG:             NDCG(retrieved, q.ExpectedSources),
		RetrievedSources: retrieved,
		ExpectedSources:  q.ExpectedSources,
	}
	for _, s := range q.ExpectedSources {
		if retrievedSet[s] {
			r.Hits = append(r.Hits, s)
		} else {
			r.Misses = append(r.Misses, s)
		}
	}
	return r
}

// RecallAtK is the fraction of expected sources that were retrieved. With
// nothing expected it is 1.
func RecallAtK(retrieved, expected []string) float64 {
	if len(expected) == 0 {
		return 1
	}
	got := toSet(retrieved)
	hits := 0
	for _, e := range expected {
		if got[e] {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}

// PrecisionAtK is the fraction of retrieved sources that were expected.
func PrecisionAtK(retrieved, expected []string) float64 {
	if len(retrieved) == 0 || len(expected) == 0 {
		return 0
	}
	want := toSet(expected)
	hits := 0
	for _, r := range retrieved {
		if want[r] {
			hits++
		}
	}
	return float64(hits) / float64(len(retrieved))
}

// ReciprocalRank is 1/rank of the first expected source. With nothing
// expected it is 1.
func ReciprocalRank(retrieved, expected []string) float64 {
	if len(expected) == 0 {
		return 1
	}
	want := toSet(expected)
	for i, r := range retrieved {
		if want[r] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// NDCG uses binary relevance. The ideal ranking places min(|expected|,
// |retrieved|) relevant sources first.
func NDCG(retrieved, expected []string) float64 {
	if len(expected) == 0 {
		return 1
	}
	want := toSet(expected)
	dcg := 0.0
	for i, r := range retrieved {
		if want[r] {
			dcg += 1 / math.Log2(float64(i+2))
		}
	}
	idcg := 0.0
	for i := range min(len(expected), len(retrieved)) {
		idcg += 1 / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

// AggregateResults averages metrics overall and per category.
func AggregateResults(results []EvalResult) Aggregate {
	agg := Aggregate{Count: len(results), ByCategory: make(map[string]CategoryStats)}
	if len(results) == 0 {
		return agg
	}

	type sums struct {
		n           int
		recall, mrr float64
	}
	byCat := make(map[string]*sums)
	for _, r := range results {
		agg.AvgRecall += r.Recall
		agg.AvgPrecision += r.Precision
		agg.AvgMRR += r.MRR
		agg.AvgNDCG += r.NDCG

		s, ok := byCat[r.Category]
		if !ok {
			s = &sums{}
			byCat[r.Category] = s
		}
		s.n++
		s.recall += r.Recall
		s.mrr += r.MRR
	}
	n := float64(len(results))
	agg.AvgRecall /= n
	agg.AvgPrecision /= n
	agg.AvgMRR /= n
	agg.AvgNDCG /= n

	for cat, s := range byCat {
		agg.ByCategory[cat] = CategoryStats{
			Count:     s.n,
			AvgRecall: s.recall / float64(s.n),
			AvgMRR:    s.mrr / float64(s.n),
		}
	}
	return agg
}

// Failed returns the results that retrieved none of their expected sources.
func Failed(results []EvalResult) []EvalResult {
	var out []EvalResult
	for _, r := range results {
		if r.Recall == 0 && len(r.ExpectedSources) > 0 {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QueryID < out[j].QueryID })
	return out
}

// Categories returns the category names of agg in sorted order.
func (a Aggregate) Categories() []string {
	cats := make([]string, 0, len(a.ByCategory))
	for c := range a.ByCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

func (a Aggregate) String() string {
	return fmt.Sprintf("n=%d recall=%.3f precision=%.3f mrr=%.3f ndcg=%.3f",
		a.Count, a.AvgRecall, a.AvgPrecision, a.AvgMRR, a.AvgNDCG)
}
