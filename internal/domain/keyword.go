package domain

// KeywordIndexVersion is the persisted keyword index format version.
const KeywordIndexVersion = 1

// DocMeta is the per-document metadata kept by the keyword index.
type DocMeta struct {
	Source     string            `json:"source"`
	ChunkIndex int               `json:"chunkIndex"`
	SourceType string            `json:"sourceType"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// Fields flattens the document metadata for filtering.
func (d DocMeta) Fields() map[string]string {
	m := ChunkMetadata{Source: d.Source, ChunkIndex: d.ChunkIndex, SourceType: SourceType(d.SourceType)}
	f := m.Fields()
	for k, v := range d.Tags {
		f[k] = v
	}
	return f
}

// Metadata rebuilds chunk metadata from the stored document metadata.
func (d DocMeta) Metadata() ChunkMetadata {
	return ChunkMetadata{
		Source:         d.Source,
		SourceType:     SourceType(d.SourceType),
		ChunkIndex:     d.ChunkIndex,
		Title:          d.Tags[FieldTitle],
		OriginStandard: d.Tags[FieldOriginStandard],
		Language:       d.Tags[FieldLanguage],
		Topic:          d.Tags[FieldTopic],
		Collection:     d.Tags[FieldCollection],
	}
}

// TermEntry is one inverted-index row. DF always equals len(Postings).
type TermEntry struct {
	DF       int            `json:"df"`
	Postings map[string]int `json:"postings"`
}

// KeywordIndex is the persisted BM25 index.
type KeywordIndex struct {
	Version      int                   `json:"version"`
	TotalDocs    int                   `json:"totalDocs"`
	AvgDocLength float64               `json:"avgDocLength"`
	DocLengths   map[string]int        `json:"docLengths"`
	DocMeta      map[string]DocMeta    `json:"docMeta"`
	Terms        map[string]*TermEntry `json:"terms"`
}

// NewKeywordIndex returns an empty index.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		Version:    KeywordIndexVersion,
		DocLengths: make(map[string]int),
		DocMeta:    make(map[string]DocMeta),
		Terms:      make(map[string]*TermEntry),
	}
}

// KeywordHit is one keyword search result.
type KeywordHit struct {
	DocID string
	Score float64
	Meta  DocMeta
}
