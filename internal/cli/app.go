package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"docsearch/config"
	"docsearch/internal/adapter/analyzer"
	"docsearch/internal/adapter/cache"
	"docsearch/internal/adapter/chunker"
	"docsearch/internal/adapter/embedding"
	"docsearch/internal/adapter/fs"
	"docsearch/internal/adapter/llm"
	"docsearch/internal/adapter/memstore"
	"docsearch/internal/adapter/querylog"
	"docsearch/internal/adapter/retriever"
	"docsearch/internal/adapter/store"
	"docsearch/internal/adapter/tags"
	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/port"
	"docsearch/internal/usecase"
)

// openOptions selects which parts of the app a command needs.
type openOptions struct {
	// embedder builds the embedding client; commands that never embed skip
	// it so they work without credentials.
	embedder bool
	// skipMigrate leaves the store schema as found.
	skipMigrate bool
}

// app is the wired object graph behind every command.
type app struct {
	cfg      *config.Config
	root     string
	logger   *slog.Logger
	store    *store.VectorStore
	keywords *retriever.KeywordIndex
	embedder port.Embedder
	cache    *cache.ResultCache[*usecase.SearchResponse]
	queryLog *querylog.Log
	search   *usecase.SearchUseCase
	index    *usecase.IndexUseCase
}

func (g *globals) open(opts openOptions) (*app, error) {
	cfg, logger := g.cfg, g.logger

	backend, err := openBackend(cfg, g.rootDir)
	if err != nil {
		return nil, err
	}
	st := store.NewVectorStore(backend,
		store.WithManifestTTL(cfg.Store.ManifestTTL),
		store.WithLogger(logger),
	)

	if !opts.skipMigrate {
		if err := autoMigrate(st, logger); err != nil {
			st.Close()
			return nil, err
		}
	}

	a := &app{
		cfg:    cfg,
		root:   g.rootDir,
		logger: logger,
		store:  st,
		keywords: retriever.NewKeywordIndex(backend, st, analyzer.NewTokenizer(),
			retriever.WithBM25Params(cfg.Keyword.K1, cfg.Keyword.B),
			retriever.WithKeywordLogger(logger),
		),
		queryLog: querylog.New(cfg.QueryLogPath(g.rootDir), logger),
	}
	if cfg.Search.CacheSize > 0 {
		a.cache = cache.New[*usecase.SearchResponse](cfg.Search.CacheSize, cfg.Search.CacheTTL)
	}

	if opts.embedder {
		a.embedder, err = embedding.New(cfg.Embedding)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	var rewriter port.QueryRewriter
	var reranker port.Reranker
	if opts.embedder {
		rewriter, reranker = a.llmStages()
	}

	searcher := retriever.NewHybridSearcher(st, a.keywords, a.embedder,
		retriever.WithRewriter(rewriter),
		retriever.WithReranker(reranker),
		retriever.WithOverfetch(cfg.Search.OverfetchScale, cfg.Search.RerankPool),
		retriever.WithHybridLogger(logger),
	)

	searchOpts := []usecase.SearchOption{
		usecase.WithQueryLog(a.queryLog),
		usecase.WithMultiStepRewriter(rewriter),
		usecase.WithRRFK(cfg.Search.RRFK),
		usecase.WithDefaultMaxPerSource(cfg.Search.MaxPerSource),
		usecase.WithSearchLogger(logger),
	}
	if a.cache != nil {
		searchOpts = append(searchOpts, usecase.WithResultCache(a.cache))
	}
	a.search = usecase.NewSearchUseCase(st, a.keywords, searcher, a.embedder, searchOpts...)

	tagger, err := tags.LoadFile(a.resolve(cfg.Store.TagsFile))
	if err != nil {
		st.Close()
		return nil, err
	}
	a.index = usecase.NewIndexUseCase(st, a.keywords,
		fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes),
		chunker.NewCharChunker(
			chunker.WithChunkSize(cfg.Chunk.Size),
			chunker.WithOverlap(cfg.Chunk.Overlap),
			chunker.WithMinChunkLength(cfg.Chunk.MinLength),
			chunker.WithTagger(tagger),
		),
		a.embedder,
		usecase.WithBatchSize(cfg.Embedding.BatchSize),
		usecase.WithSourceType(domain.SourceType(cfg.Ingest.SourceType)),
		usecase.WithChangeHook(a.purgeCache),
		usecase.WithIndexLogger(logger),
	)
	return a, nil
}

// llmStages builds the rewriter and reranker. Without a usable chat model
// both stay nil and searches run without them.
func (a *app) llmStages() (port.QueryRewriter, port.Reranker) {
	client, err := llm.New(a.cfg.LLM)
	if err != nil {
		a.logger.Warn("query rewriting and reranking disabled", slog.String("error", err.Error()))
		return nil, nil
	}
	if client == nil {
		return nil, nil
	}
	return retriever.NewLLMRewriter(client, a.cfg.LLM.Timeout, a.logger),
		retriever.NewLLMReranker(client, a.cfg.LLM.Timeout, a.logger)
}

func (a *app) purgeCache() {
	if a.cache != nil {
		a.cache.Purge()
	}
}

// resolve makes a configured path absolute against the root directory.
func (a *app) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.root, path)
}

func (a *app) Close() error {
	return a.store.Close()
}

func openBackend(cfg *config.Config, root string) (port.Backend, error) {
	dir := cfg.StoreDir(root)
	switch cfg.Store.Backend {
	case "memory":
		return memstore.NewBackend(), nil
	case "bolt":
		if err := config.EnsureStoreDir(dir); err != nil {
			return nil, docerrors.StorageError("failed to create store directory", err)
		}
		b, err := store.NewBoltBackend(config.BoltPath(dir))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		b, err := store.NewFileBackend(dir)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// autoMigrate brings an older store up to the current schema. A store
// written by a newer build is refused rather than rewritten.
func autoMigrate(st *store.VectorStore, logger *slog.Logger) error {
	result, err := st.CheckMigration()
	if err != nil {
		return err
	}
	if result.NeedsRebuild {
		return docerrors.New(docerrors.ErrCodeMigrationFailed, result.Reason, nil).
			WithSuggestion("upgrade docsearch or re-index into a fresh store directory")
	}
	if !result.NeedsMigration {
		return nil
	}
	logger.Info("migrating store", slog.String("reason", result.Reason))
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
