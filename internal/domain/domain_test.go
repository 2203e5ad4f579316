package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Matches(t *testing.T) {
	meta := ChunkMetadata{Source: "CIRSOC_301.txt", SourceType: SourceTypeNorma, ChunkIndex: 3, Collection: "norma"}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", nil, true},
		{"single match", Filter{FieldCollection: "norma"}, true},
		{"all must match", Filter{FieldCollection: "norma", FieldSource: "other.txt"}, false},
		{"chunk index as text", Filter{FieldChunkIndex: "3"}, true},
		{"unset field", Filter{FieldTopic: "acero"}, false},
		{"unknown key", Filter{"autor": "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(meta))
			assert.Equal(t, tc.want, tc.filter.MatchesFields(meta.Fields()))
		})
	}
}

func TestFilter_WithCopies(t *testing.T) {
	base := Filter{FieldLanguage: "es"}
	narrowed := base.With(FieldCollection, "memoria")

	assert.Equal(t, Filter{FieldLanguage: "es", FieldCollection: "memoria"}, narrowed)
	assert.Len(t, base, 1)

	var none Filter
	assert.Equal(t, Filter{FieldCollection: "norma"}, none.With(FieldCollection, "norma"))
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter([]string{"coleccion=norma", "idioma=es", "title=a=b"})
	require.NoError(t, err)
	assert.Equal(t, Filter{"coleccion": "norma", "idioma": "es", "title": "a=b"}, f)

	f, err = ParseFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = ParseFilter([]string{"coleccion"})
	assert.Error(t, err)
	_, err = ParseFilter([]string{"=norma"})
	assert.Error(t, err)
}

func TestChunkMetadata_FieldsOmitsEmpty(t *testing.T) {
	meta := ChunkMetadata{Source: "a.txt", SourceType: SourceTypePDF}
	meta.ApplyTags(Tags{Collection: "libro", Language: "es"})

	assert.Equal(t, map[string]string{
		FieldSource:     "a.txt",
		FieldSourceType: "pdf",
		FieldChunkIndex: "0",
		FieldCollection: "libro",
		FieldLanguage:   "es",
	}, meta.Fields())
	assert.Equal(t, "libro", meta.Field(FieldCollection))
}

func TestDocMeta_RoundTripsTags(t *testing.T) {
	d := DocMeta{Source: "a.txt", ChunkIndex: 2, SourceType: "pdf", Tags: map[string]string{FieldCollection: "norma"}}
	assert.Equal(t, "norma", d.Metadata().Collection)
	assert.Equal(t, "norma", d.Fields()[FieldCollection])
	assert.Equal(t, "2", d.Fields()[FieldChunkIndex])
}

func TestSearchResult_Confidence(t *testing.T) {
	cases := []struct {
		distance float64
		want     Confidence
	}{
		{0.1, ConfidenceHigh},
		{0.3, ConfidenceMedium},
		{0.5, ConfidenceLow},
		{0.9, ConfidenceLow},
	}
	for _, tc := range cases {
		r := SearchResult{Distance: tc.distance}
		assert.Equal(t, tc.want, r.Confidence(), "distance %.1f", tc.distance)
	}
	assert.InDelta(t, 0.75, SearchResult{Distance: 0.25}.Similarity(), 1e-9)
}

func TestParseMethod(t *testing.T) {
	cases := map[string]Method{
		"":          MethodHybrid,
		"hybrid":    MethodHybrid,
		"semantic":  MethodSemantic,
		"keyword":   MethodKeyword,
		"bm25":      MethodKeyword,
		"multistep": MethodMultiStep,
	}
	for in, want := range cases {
		got, err := ParseMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMethod("fuzzy")
	assert.Error(t, err)

	text, err := MethodKeyword.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "bm25", string(text))

	var m Method
	require.NoError(t, m.UnmarshalText([]byte("semantic")))
	assert.Equal(t, MethodSemantic, m)
}

func TestCollection_Valid(t *testing.T) {
	assert.True(t, CollectionPliego.Valid())
	assert.False(t, CollectionNone.Valid())
	assert.False(t, Collection("revista").Valid())
}

func TestManifest(t *testing.T) {
	m := &Manifest{Version: 3}
	m.Upsert(SourceEntry{Name: "a.txt", Chunks: 4})
	m.Upsert(SourceEntry{Name: "b.txt", Chunks: 2})
	m.Upsert(SourceEntry{Name: "a.txt", Chunks: 5})

	require.Len(t, m.Sources, 2)
	assert.Equal(t, 7, m.TotalChunks())

	e, ok := m.Find("a.txt")
	require.True(t, ok)
	assert.Equal(t, 5, e.Chunks)

	assert.True(t, m.Remove("a.txt"))
	assert.False(t, m.Remove("a.txt"))
	_, ok = m.Find("a.txt")
	assert.False(t, ok)
	assert.Equal(t, 2, m.TotalChunks())
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "CIRSOC_301.txt-chunk-12", ChunkID("CIRSOC_301.txt", 12))
}

func TestOutcome(t *testing.T) {
	boom := errors.New("boom")

	ok := Success("x")
	assert.True(t, ok.Usable())
	assert.Equal(t, "success", ok.Status.String())
	assert.NoError(t, ok.Err)

	fb := Fallback("original", boom)
	assert.True(t, fb.Usable())
	assert.Equal(t, "original", fb.Value)
	assert.ErrorIs(t, fb.Err, boom)

	fatal := Fatal[[]float32](boom)
	assert.False(t, fatal.Usable())
	assert.Nil(t, fatal.Value)
	assert.Equal(t, "fatal", fatal.Status.String())
}
