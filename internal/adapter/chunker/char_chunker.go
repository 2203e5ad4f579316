package chunker

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"docsearch/internal/domain"
	"docsearch/internal/port"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 100
	// DefaultMinLength is the trimmed length a window must exceed to be kept.
	DefaultMinLength = 50

	breakWindow = 100
)

// breakPoints are tried in order; the last occurrence of the first one
// present in the window around the cut wins.
var breakPoints = []string{"\n\n", ".\n", ". ", "\n"}

var blankLines = regexp.MustCompile(`\n{3,}`)

// CharChunker cuts text into overlapping character windows, moving each cut
// to a nearby paragraph or sentence boundary when one exists.
type CharChunker struct {
	size      int
	overlap   int
	minLength int
	tagger    port.Tagger
}

// Option configures a CharChunker.
type Option func(*CharChunker)

// WithChunkSize sets the window size in characters.
func WithChunkSize(size int) Option {
	return func(c *CharChunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap between consecutive windows.
func WithOverlap(overlap int) Option {
	return func(c *CharChunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinChunkLength sets the minimum trimmed window length.
func WithMinChunkLength(n int) Option {
	return func(c *CharChunker) {
		if n >= 0 {
			c.minLength = n
		}
	}
}

// WithTagger attaches the filename-to-tags collaborator.
func WithTagger(t port.Tagger) Option {
	return func(c *CharChunker) {
		c.tagger = t
	}
}

// NewCharChunker creates a chunker with the given options.
func NewCharChunker(opts ...Option) *CharChunker {
	c := &CharChunker{
		size:      DefaultChunkSize,
		overlap:   DefaultOverlap,
		minLength: DefaultMinLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Chunk splits text extracted from source into chunks with deterministic ids.
func (c *CharChunker) Chunk(source string, sourceType domain.SourceType, text string) []domain.Chunk {
	windows := c.Split(text)
	if len(windows) == 0 {
		return nil
	}

	base := domain.ChunkMetadata{
		Source:     source,
		SourceType: sourceType,
		Title:      strings.TrimSuffix(source, filepath.Ext(source)),
	}
	if c.tagger != nil {
		base.ApplyTags(c.tagger.Tags(source))
	}

	chunks := make([]domain.Chunk, len(windows))
	for i, w := range windows {
		meta := base
		meta.ChunkIndex = i
		chunks[i] = domain.Chunk{
			ID:       domain.ChunkID(source, i),
			Content:  w,
			Metadata: meta,
		}
	}
	return chunks
}

// Split returns the text windows without metadata.
func (c *CharChunker) Split(text string) []string {
	clean := CleanText(text)
	if clean == "" {
		return nil
	}

	runes := []rune(clean)
	n := len(runes)
	if n <= c.size {
		return []string{clean}
	}

	var windows []string
	start := 0
	for start < n {
		end := start + c.size
		if end < n {
			end = adjustEnd(runes, start, end)
		}
		if end > n {
			end = n
		}

		w := strings.TrimSpace(string(runes[start:end]))
		if utf8.RuneCountInString(w) > c.minLength {
			windows = append(windows, w)
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next

		if start >= n-c.minLength {
			break
		}
	}

	return windows
}

// adjustEnd moves end to just after the last break point found within
// breakWindow characters on either side of it. The result is always past start.
func adjustEnd(runes []rune, start, end int) int {
	lo := end - breakWindow
	if lo <= start {
		lo = start + 1
	}
	hi := end + breakWindow
	if hi > len(runes) {
		hi = len(runes)
	}
	window := string(runes[lo:hi])

	for _, bp := range breakPoints {
		if idx := strings.LastIndex(window, bp); idx != -1 {
			return lo + utf8.RuneCountInString(window[:idx]) + utf8.RuneCountInString(bp)
		}
	}
	return end
}

// CleanText normalizes line endings, collapses runs of blank lines and trims.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
