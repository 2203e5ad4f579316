package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"docsearch/internal/adapter/retriever"
	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
)

// MultiStepRequest is a collection-aware search.
type MultiStepRequest struct {
	Query        string
	Limit        int
	Filter       domain.Filter
	Rewrite      bool
	MaxPerSource int
}

type collectionRule struct {
	pattern    *regexp.Regexp
	collection domain.Collection
}

// collectionRules are checked in order; the first match wins.
var collectionRules = []collectionRule{
	{regexp.MustCompile(`cirsoc|aisi.?s100|aws.?d1|reglamento\b`), domain.CollectionNorma},
	{regexp.MustCompile(`\bastm\b|a36[0-9]|a37[0-9]|a313|ensayo.?(?:de\s+)?tracci[oó]n`), domain.CollectionMaterial},
	{regexp.MustCompile(`\btekla\b|sap.?2000`), domain.CollectionSoftware},
	{regexp.MustCompile(`\bmemoria\b|galp[oó]n|nave.?industrial|ejemplo.?de.?c[aá]lculo`), domain.CollectionMemoria},
	{regexp.MustCompile(`\bpliego\b|licitaci[oó]n`), domain.CollectionPliego},
}

// DetectCollection guesses which collection a query is about. It returns
// CollectionNone when no rule matches.
func DetectCollection(query string) domain.Collection {
	q := strings.ToLower(query)
	for _, r := range collectionRules {
		if r.pattern.MatchString(q) {
			return r.collection
		}
	}
	return domain.CollectionNone
}

// MultiStepSearch rewrites and embeds the query once, runs a narrow search
// inside the detected collection and a broad one over the whole corpus, and
// merges them so that no single source dominates the answer.
func (u *SearchUseCase) MultiStepSearch(ctx context.Context, req MultiStepRequest) (*SearchResponse, error) {
	start := time.Now()
	original := strings.TrimSpace(req.Query)
	if original == "" {
		return nil, docerrors.New(docerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if req.Limit <= 0 {
		req.Limit = retriever.DefaultLimit
	}
	if req.MaxPerSource <= 0 {
		req.MaxPerSource = u.maxPerSource
	}

	resp := &SearchResponse{Status: StatusOK, Query: original, Method: domain.MethodMultiStep}

	total, err := u.totalChunks()
	if err != nil {
		return nil, err
	}
	resp.TotalChunks = total
	if total == 0 {
		resp.Status = StatusEmptyCorpus
		resp.Results = []domain.SearchResult{}
		resp.Timings.TotalMs = domain.Since(start)
		resp.Timings.MultiStepMs = resp.Timings.TotalMs
		u.record(resp, req.Filter, req.Limit)
		return resp, nil
	}

	query := original
	if req.Rewrite {
		t := time.Now()
		out := u.rewriter.Rewrite(ctx, original)
		resp.Timings.RewriteMs = domain.Since(t)
		if out.Status == domain.OutcomeFallback {
			resp.fellBack(domain.StageRewrite)
		}
		if out.Value != "" && out.Value != original {
			query = out.Value
			resp.RewrittenQuery = query
		}
	}

	t := time.Now()
	emb := retriever.EmbedQuery(ctx, u.embedder, query)
	resp.Timings.EmbeddingMs = domain.Since(t)
	if !emb.Usable() {
		return nil, emb.Err
	}

	collection := DetectCollection(original)
	resp.DetectedCollection = collection
	resp.Steps = 1

	step := func(filter domain.Filter) ([]domain.SearchResult, error) {
		out, err := u.searcher.Search(ctx, retriever.SearchRequest{
			Query:     query,
			Limit:     req.Limit * 2,
			Filter:    filter,
			Method:    domain.MethodHybrid,
			RRFK:      u.rrfK,
			Embedding: emb.Value,
		})
		if err != nil {
			return nil, err
		}
		addTimings(&resp.Timings, out.Timings)
		for _, stage := range out.Fallbacks {
			resp.fellBack(stage)
		}
		return out.Results, nil
	}

	var combined []domain.SearchResult
	if collection != domain.CollectionNone {
		narrow, err := step(req.Filter.With(domain.FieldCollection, string(collection)))
		if err != nil {
			return nil, err
		}
		combined = append(combined, narrow...)
		resp.Steps = 2
	}
	broad, err := step(req.Filter)
	if err != nil {
		return nil, err
	}
	combined = append(combined, broad...)

	diversity := retriever.SourceDiversity{MaxPerSource: req.MaxPerSource}
	resp.Results = diversity.Diversify(dedupeByID(combined), req.Limit)
	resp.Timings.TotalMs = domain.Since(start)
	resp.Timings.MultiStepMs = resp.Timings.TotalMs

	u.logger.Debug("multistep search",
		slog.String("collection", string(collection)),
		slog.Int("steps", resp.Steps),
		slog.Int("results", len(resp.Results)))
	u.record(resp, req.Filter, req.Limit)
	return resp, nil
}

func addTimings(dst *domain.Timings, src domain.Timings) {
	dst.EmbeddingMs += src.EmbeddingMs
	dst.BM25Ms += src.BM25Ms
	dst.SearchMs += src.SearchMs
	dst.FusionMs += src.FusionMs
	dst.RewriteMs += src.RewriteMs
	dst.RerankMs += src.RerankMs
}

func (r *SearchResponse) fellBack(stage domain.Stage) {
	r.Degraded = true
	if !slices.Contains(r.Fallbacks, stage) {
		r.Fallbacks = append(r.Fallbacks, stage)
	}
}

// dedupeByID keeps the first occurrence of every result.
func dedupeByID(results []domain.SearchResult) []domain.SearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
