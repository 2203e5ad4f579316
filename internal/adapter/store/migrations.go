package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/port"
)

// CurrentSchemaVersion is the manifest version written by this build.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 3

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	NeedsRebuild   bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// storedVersion returns the manifest and its schema version. With no
// manifest, a legacy corpus counts as version 0 and an empty store as current.
func (s *VectorStore) storedVersion() (*domain.Manifest, int, error) {
	m, err := s.backend.LoadManifest()
	if err == nil {
		return m, m.Version, nil
	}
	if !errors.Is(err, port.ErrNotFound) {
		return nil, 0, err
	}

	if _, lerr := s.backend.LoadLegacy(); lerr == nil {
		return &domain.Manifest{}, 0, nil
	} else if !errors.Is(lerr, port.ErrNotFound) {
		return nil, 0, lerr
	}
	return nil, CurrentSchemaVersion, nil
}

// CheckMigration checks if migration or rebuild is needed.
func (s *VectorStore) CheckMigration() (*MigrationResult, error) {
	_, version, err := s.storedVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}

	result := &MigrationResult{
		OldVersion: version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", version, CurrentSchemaVersion)
	case version > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("store created by newer version (v%d > v%d)", version, CurrentSchemaVersion)
	}
	return result, nil
}

// Migrate runs every pending migration step in order. The manifest version
// is saved after each step, so a step never runs twice.
func (s *VectorStore) Migrate() error {
	unlock, err := s.backend.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	manifest, version, err := s.storedVersion()
	if err != nil {
		return docerrors.New(docerrors.ErrCodeMigrationFailed, "failed to read schema version", err)
	}
	if version > CurrentSchemaVersion {
		return docerrors.New(docerrors.ErrCodeMigrationFailed,
			fmt.Sprintf("store created by newer version (v%d)", version), nil).
			WithSuggestion("Re-index the corpus with this version: docsearch index --force")
	}
	if manifest == nil {
		return nil
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(manifest, v, v+1); err != nil {
			return docerrors.New(docerrors.ErrCodeMigrationFailed,
				fmt.Sprintf("migration from v%d to v%d failed", v, v+1), err)
		}
		manifest.Version = v + 1
		if err := s.backend.SaveManifest(manifest); err != nil {
			return docerrors.New(docerrors.ErrCodeMigrationFailed, "failed to save manifest", err)
		}
		s.logger.Info("store migrated", slog.Int("from", v), slog.Int("to", v+1))
	}

	s.Refresh()
	return nil
}

// runMigration runs a specific version migration against manifest.
func (s *VectorStore) runMigration(manifest *domain.Manifest, from, to int) error {
	switch {
	case from == 0 && to == 1:
		return s.importLegacy(manifest)
	case from == 1 && to == 2:
		return s.recountChunks(manifest)
	case from == 2 && to == 3:
		return s.dropOrphanEntries(manifest)
	default:
		return nil
	}
}

// importLegacy splits the single-file corpus into per-source shards and
// chunk records, then retires the legacy file.
func (s *VectorStore) importLegacy(manifest *domain.Manifest) error {
	legacy, err := s.backend.LoadLegacy()
	if errors.Is(err, port.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var order []string
	bySource := make(map[string][]port.LegacyVector)
	for _, v := range legacy {
		source := v.Metadata.Source
		if source == "" {
			source, _, _ = strings.Cut(v.ID, "-chunk-")
			v.Metadata.Source = source
		}
		if _, ok := bySource[source]; !ok {
			order = append(order, source)
		}
		bySource[source] = append(bySource[source], v)
	}

	now := s.now().UTC()
	for _, source := range order {
		shard, texts, err := s.loadForWrite(source)
		if err != nil {
			return err
		}
		vectors := make([]domain.IndexedVector, 0, len(bySource[source]))
		for _, v := range bySource[source] {
			vectors = append(vectors, domain.IndexedVector{ID: v.ID, Embedding: v.Embedding, Metadata: v.Metadata})
			texts[v.Metadata.ChunkIndex] = v.Content
		}
		mergeVectors(shard, vectors)

		if err := s.backend.SaveShard(shard); err != nil {
			return err
		}
		if err := s.backend.SaveChunkTexts(source, texts); err != nil {
			return err
		}
		manifest.Upsert(domain.SourceEntry{Name: source, Chunks: len(shard.Documents), IndexedAt: now})
	}

	if err := s.backend.SaveManifest(manifest); err != nil {
		return err
	}
	s.logger.Info("imported legacy corpus", slog.Int("vectors", len(legacy)), slog.Int("sources", len(order)))
	return s.backend.RetireLegacy()
}

// recountChunks makes every manifest count equal its shard size.
func (s *VectorStore) recountChunks(manifest *domain.Manifest) error {
	for i, entry := range manifest.Sources {
		shard, err := s.backend.LoadShard(entry.Name)
		if errors.Is(err, port.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		manifest.Sources[i].Chunks = len(shard.Documents)
	}
	return nil
}

// dropOrphanEntries removes manifest entries whose shard is missing.
func (s *VectorStore) dropOrphanEntries(manifest *domain.Manifest) error {
	kept := manifest.Sources[:0]
	for _, entry := range manifest.Sources {
		_, err := s.backend.LoadShard(entry.Name)
		if errors.Is(err, port.ErrNotFound) {
			s.logger.Warn("dropping manifest entry without shard", slog.String("source", entry.Name))
			continue
		}
		if err != nil {
			return err
		}
		kept = append(kept, entry)
	}
	manifest.Sources = kept
	return nil
}
