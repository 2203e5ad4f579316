package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ContentUnavailable replaces chunk text that cannot be resolved from storage.
const ContentUnavailable = "[Content unavailable]"

// Metadata field names. These are the persisted keys used by filters.
const (
	FieldSource         = "source"
	FieldSourceType     = "sourceType"
	FieldChunkIndex     = "chunkIndex"
	FieldTitle          = "title"
	FieldOriginStandard = "normaOrigen"
	FieldLanguage       = "idioma"
	FieldTopic          = "tema"
	FieldCollection     = "coleccion"
)

// SourceType classifies the document a chunk was extracted from.
type SourceType string

const (
	SourceTypePDF    SourceType = "pdf"
	SourceTypeManual SourceType = "manual"
	SourceTypeNorma  SourceType = "norma"
)

// Tags are the domain labels attached to a source by the tagger.
type Tags struct {
	OriginStandard string `json:"normaOrigen,omitempty" yaml:"normaOrigen"`
	Language       string `json:"idioma,omitempty" yaml:"idioma"`
	Topic          string `json:"tema,omitempty" yaml:"tema"`
	Collection     string `json:"coleccion,omitempty" yaml:"coleccion"`
}

// ChunkMetadata describes where a chunk came from.
type ChunkMetadata struct {
	Source         string     `json:"source"`
	SourceType     SourceType `json:"sourceType"`
	ChunkIndex     int        `json:"chunkIndex"`
	Title          string     `json:"title,omitempty"`
	OriginStandard string     `json:"normaOrigen,omitempty"`
	Language       string     `json:"idioma,omitempty"`
	Topic          string     `json:"tema,omitempty"`
	Collection     string     `json:"coleccion,omitempty"`
}

// ApplyTags copies tags into the metadata.
func (m *ChunkMetadata) ApplyTags(t Tags) {
	m.OriginStandard = t.OriginStandard
	m.Language = t.Language
	m.Topic = t.Topic
	m.Collection = t.Collection
}

// Fields flattens the metadata for equality filtering. Empty values are omitted.
func (m ChunkMetadata) Fields() map[string]string {
	f := map[string]string{
		FieldSource:     m.Source,
		FieldSourceType: string(m.SourceType),
		FieldChunkIndex: strconv.Itoa(m.ChunkIndex),
	}
	for k, v := range map[string]string{
		FieldTitle:          m.Title,
		FieldOriginStandard: m.OriginStandard,
		FieldLanguage:       m.Language,
		FieldTopic:          m.Topic,
		FieldCollection:     m.Collection,
	} {
		if v != "" {
			f[k] = v
		}
	}
	return f
}

// Field returns a single metadata value by persisted key.
func (m ChunkMetadata) Field(key string) string {
	switch key {
	case FieldSource:
		return m.Source
	case FieldSourceType:
		return string(m.SourceType)
	case FieldChunkIndex:
		return strconv.Itoa(m.ChunkIndex)
	case FieldTitle:
		return m.Title
	case FieldOriginStandard:
		return m.OriginStandard
	case FieldLanguage:
		return m.Language
	case FieldTopic:
		return m.Topic
	case FieldCollection:
		return m.Collection
	}
	return ""
}

// Chunk is a bounded span of document text, the unit of indexing.
type Chunk struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkID builds the deterministic chunk identifier.
func ChunkID(source string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", source, index)
}

// IndexedVector is the embedding of one chunk.
type IndexedVector struct {
	ID        string        `json:"id"`
	Embedding []float32     `json:"embedding"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// Shard groups the vectors of one source document.
type Shard struct {
	Source    string          `json:"source"`
	Documents []IndexedVector `json:"documents"`
}

// ChunkTexts maps chunk index to text for one source.
type ChunkTexts map[int]string

// SourceEntry is one manifest row.
type SourceEntry struct {
	Name      string    `json:"name"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexedAt"`
}

// Manifest is the corpus-wide registry of indexed sources.
type Manifest struct {
	Version int           `json:"version"`
	Sources []SourceEntry `json:"sources"`
}

// Find returns the entry for source and whether it exists.
func (m *Manifest) Find(source string) (SourceEntry, bool) {
	for _, s := range m.Sources {
		if s.Name == source {
			return s, true
		}
	}
	return SourceEntry{}, false
}

// Upsert inserts or replaces the entry for e.Name.
func (m *Manifest) Upsert(e SourceEntry) {
	for i, s := range m.Sources {
		if s.Name == e.Name {
			m.Sources[i] = e
			return
		}
	}
	m.Sources = append(m.Sources, e)
}

// Remove drops the entry for source. It reports whether one was removed.
func (m *Manifest) Remove(source string) bool {
	for i, s := range m.Sources {
		if s.Name == source {
			m.Sources = append(m.Sources[:i], m.Sources[i+1:]...)
			return true
		}
	}
	return false
}

// TotalChunks sums chunk counts over all sources.
func (m *Manifest) TotalChunks() int {
	total := 0
	for _, s := range m.Sources {
		total += s.Chunks
	}
	return total
}

// SearchResult is a ranked passage returned to callers.
type SearchResult struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
	// Distance is 1 - cosine similarity for vector hits, a normalized
	// pseudo-distance for keyword hits, or 0.5 for fused keyword-only hits.
	Distance float64 `json:"distance"`
}

// Similarity is 1 - Distance.
func (r SearchResult) Similarity() float64 {
	return 1 - r.Distance
}

// Confidence buckets a result by similarity.
type Confidence string

const (
	ConfidenceHigh   Confidence = "alta"
	ConfidenceMedium Confidence = "media"
	ConfidenceLow    Confidence = "baja"
)

// Confidence returns the confidence bucket for the result.
func (r SearchResult) Confidence() Confidence {
	sim := r.Similarity()
	switch {
	case sim > 0.7:
		return ConfidenceHigh
	case sim > 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Filter is an AND of metadata equality checks.
type Filter map[string]string

// Matches reports whether every filter key equals the metadata value.
func (f Filter) Matches(m ChunkMetadata) bool {
	for k, v := range f {
		if m.Field(k) != v {
			return false
		}
	}
	return true
}

// MatchesFields is Matches over an already flattened field map.
func (f Filter) MatchesFields(fields map[string]string) bool {
	for k, v := range f {
		if fields[k] != v {
			return false
		}
	}
	return true
}

// With returns a copy of f with key set to value.
func (f Filter) With(key, value string) Filter {
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out[key] = value
	return out
}

// ParseFilter parses "key=value" pairs.
func ParseFilter(pairs []string) (Filter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	f := make(Filter, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", p)
		}
		f[k] = v
	}
	return f, nil
}

// Timings are per-stage latencies in milliseconds.
type Timings struct {
	EmbeddingMs int64 `json:"embeddingMs"`
	BM25Ms      int64 `json:"bm25Ms"`
	SearchMs    int64 `json:"searchMs"`
	FusionMs    int64 `json:"fusionMs"`
	RewriteMs   int64 `json:"rewriteMs"`
	RerankMs    int64 `json:"rerankMs"`
	TotalMs     int64 `json:"totalMs"`
	MultiStepMs int64 `json:"multiStepMs,omitempty"`
}

// Since returns the elapsed milliseconds since start.
func Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// Stats summarizes the corpus.
type Stats struct {
	TotalChunks int           `json:"totalChunks"`
	Sources     []SourceEntry `json:"sources"`
}
