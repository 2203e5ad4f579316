package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"docsearch/config"
	"docsearch/internal/adapter/analyzer"
	"docsearch/internal/adapter/embedding"
	"docsearch/internal/adapter/retriever"
	"docsearch/internal/adapter/store"
	"docsearch/internal/domain"
	"docsearch/internal/logging"
	"docsearch/internal/port"
	"docsearch/internal/usecase"
)

type sample struct {
	total, embed, bm25, fusion int64
	top1                       float64
	results                    int
}

func main() {
	dir := flag.String("dir", ".", "Path to indexed directory")
	queries := flag.String("q", "", "Queries to run, separated by '|'")
	topK := flag.Int("k", 5, "Number of results")
	runs := flag.Int("n", 3, "Runs per query and method")
	flag.Parse()

	if *queries == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir ./corpus -q \"pandeo lateral|conexiones en tekla\"")
		fmt.Println("\nMeasures, per retrieval method:")
		fmt.Println("  1. Latency per stage (embedding, BM25, fusion, total)")
		fmt.Println("  2. Top-1 similarity as a rough quality signal")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	search, closeStore, err := setup(cfg, *dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	stats, err := search.Stats()
	if err != nil || stats.TotalChunks == 0 {
		fmt.Fprintln(os.Stderr, "No documents indexed - run 'docsearch index' first")
		os.Exit(1)
	}

	fmt.Println("RETRIEVAL LATENCY BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Sources: %d  Chunks: %d\n", len(stats.Sources), stats.TotalChunks)
	fmt.Printf("Model: %s (%s)  Runs: %d  k: %d\n\n", cfg.Embedding.Model, cfg.Embedding.Provider, *runs, *topK)

	ctx := context.Background()
	methods := []domain.Method{domain.MethodKeyword, domain.MethodSemantic, domain.MethodHybrid, domain.MethodMultiStep}
	list := strings.Split(*queries, "|")

	fmt.Printf("%-10s %8s %8s %8s %8s %8s %8s\n", "METHOD", "P50", "P95", "EMBED", "BM25", "FUSION", "TOP1")
	fmt.Println(strings.Repeat("-", 70))
	for _, m := range methods {
		var samples []sample
		for _, q := range list {
			for range *runs {
				resp, err := search.Search(ctx, usecase.SearchRequest{Query: q, Limit: *topK, Method: m})
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s %q: %v\n", m, q, err)
					continue
				}
				samples = append(samples, toSample(resp))
			}
		}
		if len(samples) == 0 {
			continue
		}
		printRow(m, samples)
	}
}

func setup(cfg *config.Config, dir string) (*usecase.SearchUseCase, func(), error) {
	storeDir := cfg.StoreDir(dir)
	var backend port.Backend
	switch cfg.Store.Backend {
	case "bolt":
		b, err := store.NewBoltBackend(config.BoltPath(storeDir))
		if err != nil {
			return nil, nil, err
		}
		backend = b
	default:
		b, err := store.NewFileBackend(storeDir)
		if err != nil {
			return nil, nil, err
		}
		backend = b
	}

	logger := logging.Discard()
	st := store.NewVectorStore(backend, store.WithLogger(logger))
	keywords := retriever.NewKeywordIndex(backend, st, analyzer.NewTokenizer(),
		retriever.WithBM25Params(cfg.Keyword.K1, cfg.Keyword.B))

	// The embedding cache would hide the embedding latency being measured.
	cfg.Embedding.CacheSize = 0
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	searcher := retriever.NewHybridSearcher(st, keywords, embedder,
		retriever.WithOverfetch(cfg.Search.OverfetchScale, cfg.Search.RerankPool),
		retriever.WithHybridLogger(logger))
	search := usecase.NewSearchUseCase(st, keywords, searcher, embedder,
		usecase.WithRRFK(cfg.Search.RRFK),
		usecase.WithDefaultMaxPerSource(cfg.Search.MaxPerSource),
		usecase.WithSearchLogger(logger))
	return search, func() { st.Close() }, nil
}

func toSample(resp *usecase.SearchResponse) sample {
	s := sample{
		total:   resp.Timings.TotalMs,
		embed:   resp.Timings.EmbeddingMs,
		bm25:    resp.Timings.BM25Ms,
		fusion:  resp.Timings.FusionMs,
		results: len(resp.Results),
	}
	if len(resp.Results) > 0 {
		s.top1 = resp.Results[0].Similarity()
	}
	return s
}

func printRow(m domain.Method, samples []sample) {
	totals := make([]int64, len(samples))
	var embed, bm25, fusion int64
	var top1 float64
	for i, s := range samples {
		totals[i] = s.total
		embed += s.embed
		bm25 += s.bm25
		fusion += s.fusion
		top1 += s.top1
	}
	slices.Sort(totals)
	n := int64(len(samples))

	fmt.Printf("%-10s %8s %8s %8s %8s %8s %8.3f\n", m,
		ms(percentile(totals, 50)), ms(percentile(totals, 95)),
		ms(embed/n), ms(bm25/n), ms(fusion/n), top1/float64(n))
}

func percentile(sorted []int64, p int) int64 {
	idx := (len(sorted)*p+99)/100 - 1
	return sorted[max(idx, 0)]
}

func ms(v int64) string {
	return (time.Duration(v) * time.Millisecond).String()
}
