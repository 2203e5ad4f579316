// Package tags derives domain tags for a source from its filename.
package tags

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"docsearch/internal/domain"
)

const (
	DefaultOriginStandard = "Otro"
	DefaultLanguage       = "es"
	DefaultTopic          = "general"
)

type collectionRule struct {
	pattern    *regexp.Regexp
	collection domain.Collection
	topic      string
}

// Evaluated in order; the first match wins.
var collectionRules = []collectionRule{
	{regexp.MustCompile(`cirsoc|aisi|aws`), domain.CollectionNorma, ""},
	{regexp.MustCompile(`a3[0-9]{2}-`), domain.CollectionMaterial, "materiales acero"},
	{regexp.MustCompile(`tekla|sap2000`), domain.CollectionSoftware, "software"},
	{regexp.MustCompile(`memoria|tesis|ejemplo`), domain.CollectionMemoria, "calculo estructural"},
	{regexp.MustCompile(`pliego|pliegos|plieg-`), domain.CollectionPliego, "pliego"},
}

var englishMarker = regexp.MustCompile(`_en_|aisc|astm|a3[0-9]{2}-|lesson|manual_sap2000`)

var originRules = []struct {
	pattern *regexp.Regexp
	format  string
}{
	{regexp.MustCompile(`cirsoc[\s_-]*(\d{3})`), "CIRSOC %s"},
	{regexp.MustCompile(`aisi[\s_-]*s(\d{3})`), "AISI S%s"},
	{regexp.MustCompile(`aws[\s._-]*d(\d\.\d)`), "AWS D%s"},
	{regexp.MustCompile(`^a(3[0-9]{2})-`), "ASTM A%s"},
}

// Tagger resolves tags from an exact filename table first and falls back to
// filename rules for anything the table leaves empty.
type Tagger struct {
	table map[string]domain.Tags
}

// New creates a tagger over the given filename table. A nil table is allowed.
func New(table map[string]domain.Tags) *Tagger {
	if table == nil {
		table = make(map[string]domain.Tags)
	}
	return &Tagger{table: table}
}

// LoadFile reads a YAML table of filename -> tags. A missing file yields a
// rules-only tagger.
func LoadFile(path string) (*Tagger, error) {
	if path == "" {
		return New(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil), nil
		}
		return nil, fmt.Errorf("failed to read tags file: %w", err)
	}

	var table map[string]domain.Tags
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse tags file %s: %w", path, err)
	}
	return New(table), nil
}

// Tags returns the tags for filename. It never returns empty fields.
func (t *Tagger) Tags(filename string) domain.Tags {
	tags := t.table[filename]
	inferred := infer(filename)

	if tags.Collection == "" {
		tags.Collection = inferred.Collection
	}
	if tags.Language == "" {
		tags.Language = inferred.Language
	}
	if tags.OriginStandard == "" {
		tags.OriginStandard = inferred.OriginStandard
	}
	if tags.Topic == "" {
		tags.Topic = inferred.Topic
	}
	return tags
}

func infer(filename string) domain.Tags {
	lower := strings.ToLower(filename)
	tags := domain.Tags{
		OriginStandard: DefaultOriginStandard,
		Language:       DefaultLanguage,
		Topic:          DefaultTopic,
		Collection:     string(domain.CollectionLibro),
	}

	for _, r := range collectionRules {
		if r.pattern.MatchString(lower) {
			tags.Collection = string(r.collection)
			if r.topic != "" {
				tags.Topic = r.topic
			}
			break
		}
	}

	for _, r := range originRules {
		if m := r.pattern.FindStringSubmatch(lower); m != nil {
			tags.OriginStandard = fmt.Sprintf(r.format, m[1])
			break
		}
	}

	if englishMarker.MatchString(lower) {
		tags.Language = "en"
	}
	return tags
}
