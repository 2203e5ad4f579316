package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"docsearch/internal/adapter/analyzer"
	"docsearch/internal/adapter/cache"
	"docsearch/internal/adapter/chunker"
	"docsearch/internal/adapter/embedding"
	"docsearch/internal/adapter/fs"
	"docsearch/internal/adapter/memstore"
	"docsearch/internal/adapter/querylog"
	"docsearch/internal/adapter/retriever"
	"docsearch/internal/adapter/store"
	"docsearch/internal/adapter/tags"
	"docsearch/internal/domain"
	"docsearch/internal/logging"
	"docsearch/internal/port"
)

var corpus = map[string]string{
	"CIRSOC_301_acero.txt": "El reglamento CIRSOC 301 establece los requisitos para el diseño de estructuras de acero. " +
		"La resistencia a flexión de vigas se verifica con el estado límite de pandeo lateral torsional.",
	"memoria_galpon.txt": "Memoria de cálculo de un galpón industrial con pórticos de alma llena. " +
		"Se dimensionaron las correas, las columnas y las bases de hormigón armado para cargas de viento.",
	"manual_tekla.txt": "Manual de uso de Tekla Structures para modelar conexiones metálicas, " +
		"exportar planos de taller y generar listados de materiales del proyecto.",
	"libro_hormigon.txt": "Libro de hormigón armado: diseño de losas macizas, vigas continuas y " +
		"columnas esbeltas sometidas a flexocompresión con ejemplos resueltos paso a paso.",
}

type testEnv struct {
	root     string
	backend  *memstore.Backend
	store    *store.VectorStore
	keywords *retriever.KeywordIndex
	embedder port.Embedder
	index    *IndexUseCase
	search   *SearchUseCase
	cache    *cache.ResultCache[*SearchResponse]
	logPath  string
}

type envConfig struct {
	embedder     port.Embedder
	rewriter     port.QueryRewriter
	maxPerSource int
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()
	logger := logging.Discard()

	backend := memstore.NewBackend()
	st := store.NewVectorStore(backend, store.WithLogger(logger))
	kw := retriever.NewKeywordIndex(backend, st, analyzer.NewTokenizer(), retriever.WithKeywordLogger(logger))

	emb := cfg.embedder
	if emb == nil {
		emb = embedding.NewMockEmbedder(256)
	}

	searcher := retriever.NewHybridSearcher(st, kw, emb, retriever.WithHybridLogger(logger))
	resultCache := cache.New[*SearchResponse](16, 0)
	logPath := filepath.Join(t.TempDir(), querylog.DefaultFile)

	search := NewSearchUseCase(st, kw, searcher, emb,
		WithResultCache(resultCache),
		WithQueryLog(querylog.New(logPath, logger)),
		WithMultiStepRewriter(cfg.rewriter),
		WithDefaultMaxPerSource(cfg.maxPerSource),
		WithSearchLogger(logger),
	)

	ch := chunker.NewCharChunker(chunker.WithChunkSize(400), chunker.WithOverlap(50), chunker.WithTagger(tags.New(nil)))
	index := NewIndexUseCase(st, kw, fs.NewWalker(nil, nil), ch, emb,
		WithBatchSize(2),
		WithChangeHook(resultCache.Purge),
		WithIndexLogger(logger),
	)

	return &testEnv{
		root:     t.TempDir(),
		backend:  backend,
		store:    st,
		keywords: kw,
		embedder: emb,
		index:    index,
		search:   search,
		cache:    resultCache,
		logPath:  logPath,
	}
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (e *testEnv) ingestCorpus(t *testing.T) {
	t.Helper()
	for name, content := range corpus {
		e.write(t, name, content)
	}
	_, err := e.index.Index(context.Background(), e.root, IndexOptions{})
	require.NoError(t, err)
}

func sources(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Metadata.Source
	}
	return out
}

type failingEmbedder struct {
	port.Embedder
}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

type staticRewriter struct {
	out domain.Outcome[string]
}

func (s staticRewriter) Rewrite(context.Context, string) domain.Outcome[string] {
	return s.out
}
