package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/port"
)

var (
	bucketMeta    = []byte("meta")
	bucketShards  = []byte("shards")
	bucketChunks  = []byte("chunks")
	bucketKeyword = []byte("keyword")

	keyManifest = []byte("manifest")
	keyKeyword  = []byte("bm25")
)

// BoltBackend keeps the corpus in a single bbolt database. bbolt holds an
// exclusive file lock for as long as the database is open, so writers from
// other processes are already excluded; Lock only serializes goroutines.
type BoltBackend struct {
	db *bbolt.DB
	mu sync.Mutex
}

// NewBoltBackend opens or creates the database at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, docerrors.New(docerrors.ErrCodeStoreLocked, "bolt database is held by another process", err).
				WithDetail("path", path)
		}
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketShards, bucketChunks, bucketKeyword} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db}, nil
}

func (s *BoltBackend) get(bucket, key []byte, v any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return port.ErrNotFound
		}
		if err := json.Unmarshal(data, v); err != nil {
			return docerrors.New(docerrors.ErrCodeCorruptIndex, "failed to decode "+string(bucket)+" record", err).
				WithDetail("key", string(key))
		}
		return nil
	})
}

func (s *BoltBackend) put(bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

func (s *BoltBackend) LoadManifest() (*domain.Manifest, error) {
	var m domain.Manifest
	if err := s.get(bucketMeta, keyManifest, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *BoltBackend) SaveManifest(m *domain.Manifest) error {
	return s.put(bucketMeta, keyManifest, m)
}

func (s *BoltBackend) LoadShard(source string) (*domain.Shard, error) {
	var shard domain.Shard
	if err := s.get(bucketShards, []byte(source), &shard); err != nil {
		return nil, err
	}
	return &shard, nil
}

func (s *BoltBackend) SaveShard(shard *domain.Shard) error {
	return s.put(bucketShards, []byte(shard.Source), shard)
}

func (s *BoltBackend) LoadChunkTexts(source string) (domain.ChunkTexts, error) {
	var texts domain.ChunkTexts
	if err := s.get(bucketChunks, []byte(source), &texts); err != nil {
		return nil, err
	}
	return texts, nil
}

func (s *BoltBackend) SaveChunkTexts(source string, texts domain.ChunkTexts) error {
	return s.put(bucketChunks, []byte(source), texts)
}

// DeleteSource removes the shard and chunk texts in one transaction.
func (s *BoltBackend) DeleteSource(source string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketShards).Delete([]byte(source)); err != nil {
			return err
		}
		return tx.Bucket(bucketChunks).Delete([]byte(source))
	})
}

func (s *BoltBackend) LoadKeywordIndex() (*domain.KeywordIndex, error) {
	var idx domain.KeywordIndex
	if err := s.get(bucketKeyword, keyKeyword, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

func (s *BoltBackend) SaveKeywordIndex(idx *domain.KeywordIndex) error {
	return s.put(bucketKeyword, keyKeyword, idx)
}

// LoadLegacy always reports ErrNotFound: the single-file corpus predates
// the bolt backend.
func (s *BoltBackend) LoadLegacy() ([]port.LegacyVector, error) {
	return nil, port.ErrNotFound
}

func (s *BoltBackend) RetireLegacy() error {
	return nil
}

func (s *BoltBackend) Lock() (func() error, error) {
	s.mu.Lock()
	return func() error {
		s.mu.Unlock()
		return nil
	}, nil
}

func (s *BoltBackend) Close() error {
	return s.db.Close()
}
