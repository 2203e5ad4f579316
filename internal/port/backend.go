package port

import (
	"errors"

	"docsearch/internal/domain"
)

// ErrNotFound is returned by a Backend when a record does not exist.
var ErrNotFound = errors.New("record not found")

// LegacyVector is one entry of the pre-shard single-file corpus format.
type LegacyVector struct {
	ID        string               `json:"id"`
	Embedding []float32            `json:"embedding"`
	Content   string               `json:"content"`
	Metadata  domain.ChunkMetadata `json:"metadata"`
}

// Backend persists the manifest, the per-source shards and chunk texts, and
// the keyword index artifact.
type Backend interface {
	// LoadManifest returns ErrNotFound when no manifest has been written.
	LoadManifest() (*domain.Manifest, error)
	SaveManifest(m *domain.Manifest) error

	LoadShard(source string) (*domain.Shard, error)
	SaveShard(shard *domain.Shard) error

	LoadChunkTexts(source string) (domain.ChunkTexts, error)
	SaveChunkTexts(source string, texts domain.ChunkTexts) error

	// DeleteSource removes the shard and chunk texts of source.
	DeleteSource(source string) error

	LoadKeywordIndex() (*domain.KeywordIndex, error)
	SaveKeywordIndex(idx *domain.KeywordIndex) error

	// LoadLegacy returns the legacy single-file corpus, or ErrNotFound.
	LoadLegacy() ([]LegacyVector, error)
	// RetireLegacy marks the legacy corpus as migrated.
	RetireLegacy() error

	// Lock serializes writers. The returned function releases the lock.
	Lock() (func() error, error)

	Close() error
}
