package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/adapter/analyzer"
	"docsearch/internal/adapter/memstore"
	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
)

type staticChunks []domain.Chunk

func (s staticChunks) AllChunks(context.Context) ([]domain.Chunk, error) {
	return s, nil
}

func chunk(source string, idx int, collection, content string) domain.Chunk {
	return domain.Chunk{
		ID:      domain.ChunkID(source, idx),
		Content: content,
		Metadata: domain.ChunkMetadata{
			Source:     source,
			SourceType: domain.SourceTypePDF,
			ChunkIndex: idx,
			Collection: collection,
		},
	}
}

func newTestKeywordIndex(t *testing.T, chunks ...domain.Chunk) *KeywordIndex {
	t.Helper()
	k := NewKeywordIndex(memstore.NewBackend(), staticChunks(chunks), analyzer.NewTokenizer())
	_, err := k.Build(context.Background())
	require.NoError(t, err)
	return k
}

func TestKeywordIndex_BuildInvariants(t *testing.T) {
	k := newTestKeywordIndex(t,
		chunk("a.pdf", 0, "libro", "perfil HEB200 perfil laminado"),
		chunk("a.pdf", 1, "libro", "perfil IPN 300"),
	)
	idx, err := k.Load()
	require.NoError(t, err)

	assert.Equal(t, 2, idx.TotalDocs)
	for term, entry := range idx.Terms {
		assert.Equal(t, len(entry.Postings), entry.DF, "term %q", term)
		for doc, tf := range entry.Postings {
			assert.Positive(t, tf, "term %q doc %q", term, doc)
		}
	}
	assert.Equal(t, 2, idx.Terms["perfil"].Postings["a.pdf-chunk-0"])
	assert.Equal(t, 2, idx.Terms["perfil"].DF)
	assert.Equal(t, "libro", idx.DocMeta["a.pdf-chunk-1"].Tags[domain.FieldCollection])
}

func TestKeywordIndex_ExactCodeRanksFirst(t *testing.T) {
	k := newTestKeywordIndex(t,
		chunk("perfiles.pdf", 0, "libro", "Tabla de perfiles HEB200 con momento de inercia y modulo resistente."),
		chunk("perfiles.pdf", 1, "libro", "Perfiles laminados en caliente para columnas y vigas."),
		chunk("vigas.pdf", 0, "libro", "Diseño de vigas de acero según el método de resistencia."),
	)

	hits, err := k.Search("perfil heb200", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "perfiles.pdf-chunk-0", hits[0].DocID)
}

func TestKeywordIndex_MoreOccurrencesScoreHigher(t *testing.T) {
	k := newTestKeywordIndex(t,
		chunk("a.pdf", 0, "libro", "soldadura filete"),
		chunk("a.pdf", 1, "libro", "soldadura soldadura filete"),
		chunk("a.pdf", 2, "libro", "tornillos"),
	)

	hits, err := k.Search("soldadura", 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.pdf-chunk-1", hits[0].DocID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestKeywordIndex_FilterAndNoMatch(t *testing.T) {
	k := newTestKeywordIndex(t,
		chunk("cirsoc.pdf", 0, "norma", "pandeo flexional de columnas"),
		chunk("libro.pdf", 0, "libro", "pandeo lateral de vigas"),
	)

	hits, err := k.Search("pandeo", 5, domain.Filter{domain.FieldCollection: "norma"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "cirsoc.pdf-chunk-0", hits[0].DocID)

	hits, err = k.Search("inexistente", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = k.Search("de la el", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits, "stopword-only query")
}

func TestKeywordIndex_TiesBrokenByDocID(t *testing.T) {
	k := newTestKeywordIndex(t,
		chunk("b.pdf", 0, "libro", "anclaje placa base"),
		chunk("a.pdf", 0, "libro", "anclaje placa base"),
	)

	hits, err := k.Search("anclaje", 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.pdf-chunk-0", hits[0].DocID)
	assert.Equal(t, "b.pdf-chunk-0", hits[1].DocID)
}

func TestKeywordIndex_SaveLoadInvalidate(t *testing.T) {
	backend := memstore.NewBackend()
	chunks := staticChunks{chunk("a.pdf", 0, "libro", "rigidizadores de alma")}

	k := NewKeywordIndex(backend, chunks, analyzer.NewTokenizer())
	assert.False(t, k.Exists())
	_, err := k.Search("alma", 5, nil)
	assert.ErrorIs(t, err, docerrors.ErrNoKeywordIndex)
	assert.ErrorIs(t, k.Save(), docerrors.ErrNoKeywordIndex)

	require.NoError(t, k.Rebuild(context.Background()))

	fresh := NewKeywordIndex(backend, chunks, analyzer.NewTokenizer())
	assert.True(t, fresh.Exists())
	hits, err := fresh.Search("alma", 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	fresh.Invalidate()
	assert.True(t, fresh.Exists(), "reloads from the backend after invalidation")
}
