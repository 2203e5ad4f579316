package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/port"
)

const (
	manifestFile     = "manifest.json"
	keywordIndexFile = "bm25-index.json"
	legacyFile       = "vectors.json"
	lockFile         = ".write.lock"
	vectorsDir       = "vectors"
	chunksDir        = "chunks"

	// LockTimeout bounds how long a writer waits for another process.
	LockTimeout = 30 * time.Second
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// SafeName maps a source name to the file stem used for its shard and chunk files.
func SafeName(source string) string {
	return unsafeChars.ReplaceAllString(source, "_")
}

// FileBackend persists the corpus as JSON files under one directory:
//
//	manifest.json
//	vectors/<safe>.vec.json
//	chunks/<safe>.json
//	bm25-index.json
//
// Every write goes to a temp file that is renamed into place.
type FileBackend struct {
	dir  string
	lock *flock.Flock
}

// NewFileBackend creates the directory layout if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	for _, d := range []string{dir, filepath.Join(dir, vectorsDir), filepath.Join(dir, chunksDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, docerrors.StorageError("failed to create store directory", err).WithDetail("path", d)
		}
	}
	return &FileBackend{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
	}, nil
}

// Dir returns the store directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) shardPath(source string) string {
	return filepath.Join(b.dir, vectorsDir, SafeName(source)+".vec.json")
}

func (b *FileBackend) chunksPath(source string) string {
	return filepath.Join(b.dir, chunksDir, SafeName(source)+".json")
}

func (b *FileBackend) LoadManifest() (*domain.Manifest, error) {
	var m domain.Manifest
	if err := readJSON(filepath.Join(b.dir, manifestFile), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (b *FileBackend) SaveManifest(m *domain.Manifest) error {
	return writeJSONAtomic(filepath.Join(b.dir, manifestFile), m)
}

func (b *FileBackend) LoadShard(source string) (*domain.Shard, error) {
	var s domain.Shard
	if err := readJSON(b.shardPath(source), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *FileBackend) SaveShard(shard *domain.Shard) error {
	return writeJSONAtomic(b.shardPath(shard.Source), shard)
}

func (b *FileBackend) LoadChunkTexts(source string) (domain.ChunkTexts, error) {
	var texts domain.ChunkTexts
	if err := readJSON(b.chunksPath(source), &texts); err != nil {
		return nil, err
	}
	return texts, nil
}

func (b *FileBackend) SaveChunkTexts(source string, texts domain.ChunkTexts) error {
	return writeJSONAtomic(b.chunksPath(source), texts)
}

func (b *FileBackend) DeleteSource(source string) error {
	for _, p := range []string{b.shardPath(source), b.chunksPath(source)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return docerrors.StorageError("failed to delete source file", err).WithDetail("path", p)
		}
	}
	return nil
}

func (b *FileBackend) LoadKeywordIndex() (*domain.KeywordIndex, error) {
	var idx domain.KeywordIndex
	if err := readJSON(filepath.Join(b.dir, keywordIndexFile), &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

func (b *FileBackend) SaveKeywordIndex(idx *domain.KeywordIndex) error {
	return writeJSONAtomic(filepath.Join(b.dir, keywordIndexFile), idx)
}

func (b *FileBackend) LoadLegacy() ([]port.LegacyVector, error) {
	var vectors []port.LegacyVector
	if err := readJSON(filepath.Join(b.dir, legacyFile), &vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (b *FileBackend) RetireLegacy() error {
	from := filepath.Join(b.dir, legacyFile)
	if err := os.Rename(from, from+".migrated"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to retire legacy corpus: %w", err)
	}
	return nil
}

// Lock takes the cross-process writer lock, waiting up to LockTimeout.
func (b *FileBackend) Lock() (func() error, error) {
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := b.lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		return nil, docerrors.New(docerrors.ErrCodeStoreLocked, "store is locked by another writer", err).
			WithDetail("path", b.lock.Path())
	}
	return b.lock.Unlock, nil
}

func (b *FileBackend) Close() error {
	return b.lock.Close()
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return port.ErrNotFound
		}
		return docerrors.StorageError("failed to read "+filepath.Base(path), err).WithDetail("path", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return docerrors.New(docerrors.ErrCodeCorruptIndex, "failed to parse "+filepath.Base(path), err).
			WithDetail("path", path)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return docerrors.StorageError("failed to create temp file", err).WithDetail("path", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return docerrors.StorageError("failed to write temp file", err).WithDetail("path", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return docerrors.StorageError("failed to sync temp file", err).WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		return docerrors.StorageError("failed to close temp file", err).WithDetail("path", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return docerrors.StorageError("failed to replace file", err).WithDetail("path", path)
	}
	return nil
}
