package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/adapter/memstore"
	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/port"
)

func TestMigrate_FreshStoreIsCurrent(t *testing.T) {
	s, _ := newMemStore(t)

	result, err := s.CheckMigration()
	require.NoError(t, err)
	assert.False(t, result.NeedsMigration)
	assert.False(t, result.NeedsRebuild)
	require.NoError(t, s.Migrate())
}

func TestMigrate_ImportsLegacyCorpus(t *testing.T) {
	s, backend := newMemStore(t)
	require.NoError(t, backend.SetLegacy([]port.LegacyVector{
		{ID: "a.pdf-chunk-0", Embedding: []float32{1, 0}, Content: "uno", Metadata: domain.ChunkMetadata{Source: "a.pdf", ChunkIndex: 0}},
		{ID: "a.pdf-chunk-1", Embedding: []float32{0, 1}, Content: "dos", Metadata: domain.ChunkMetadata{Source: "a.pdf", ChunkIndex: 1}},
		{ID: "b.pdf-chunk-0", Embedding: []float32{1, 1}, Content: "tres", Metadata: domain.ChunkMetadata{ChunkIndex: 0}},
	}))

	result, err := s.CheckMigration()
	require.NoError(t, err)
	assert.True(t, result.NeedsMigration)
	assert.Equal(t, 0, result.OldVersion)

	require.NoError(t, s.Migrate())

	m, err := backend.LoadManifest()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, m.Version)
	assert.Equal(t, 3, m.TotalChunks())

	entry, ok := m.Find("b.pdf")
	require.True(t, ok, "source derived from the chunk id")
	assert.Equal(t, 1, entry.Chunks)

	assert.Equal(t, "dos", s.ChunkContent("a.pdf", 1))

	_, err = backend.LoadLegacy()
	assert.ErrorIs(t, err, port.ErrNotFound)

	// Running again is a no-op.
	require.NoError(t, s.Migrate())
	m2, err := backend.LoadManifest()
	require.NoError(t, err)
	assert.Equal(t, m.TotalChunks(), m2.TotalChunks())
}

func TestMigrate_RecountsAndDropsOrphans(t *testing.T) {
	ctx := context.Background()
	s, backend := newMemStore(t)

	require.NoError(t, s.Add(ctx, testChunks("a.pdf", "libro", "uno", "dos"), [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Add(ctx, testChunks("b.pdf", "libro", "tres"), [][]float32{{1, 1}}))

	// Simulate a v1 manifest with a wrong count and a dangling entry.
	m, err := backend.LoadManifest()
	require.NoError(t, err)
	m.Version = 1
	m.Sources[0].Chunks = 7
	require.NoError(t, backend.SaveManifest(m))
	backend.DeleteShard("b.pdf")

	require.NoError(t, s.Migrate())

	m, err = backend.LoadManifest()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, m.Version)
	require.Len(t, m.Sources, 1)
	assert.Equal(t, "a.pdf", m.Sources[0].Name)
	assert.Equal(t, 2, m.Sources[0].Chunks)
}

func TestMigrate_NewerVersionNeedsRebuild(t *testing.T) {
	backend := memstore.NewBackend()
	require.NoError(t, backend.SaveManifest(&domain.Manifest{Version: CurrentSchemaVersion + 1}))
	s := NewVectorStore(backend)

	result, err := s.CheckMigration()
	require.NoError(t, err)
	assert.True(t, result.NeedsRebuild)

	err = s.Migrate()
	require.Error(t, err)
	assert.Equal(t, docerrors.ErrCodeMigrationFailed, docerrors.GetCode(err))
}

func TestMigrate_FileBackendRenamesLegacyFile(t *testing.T) {
	dir := t.TempDir()
	legacy := `[{"id":"x.pdf-chunk-0","embedding":[1,0],"content":"hola","metadata":{"source":"x.pdf","sourceType":"pdf","chunkIndex":0}}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vectors.json"), []byte(legacy), 0644))

	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	s := NewVectorStore(backend, WithClock(func() time.Time { return time.Unix(0, 0) }))
	defer s.Close()

	require.NoError(t, s.Migrate())

	assert.NoFileExists(t, filepath.Join(dir, "vectors.json"))
	assert.FileExists(t, filepath.Join(dir, "vectors.json.migrated"))
	assert.Equal(t, "hola", s.ChunkContent("x.pdf", 0))
}
