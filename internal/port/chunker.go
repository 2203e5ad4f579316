package port

import "docsearch/internal/domain"

// Chunker splits the extracted text of one source into chunks.
type Chunker interface {
	Chunk(source string, sourceType domain.SourceType, text string) []domain.Chunk
}

// Tagger maps a source filename to its domain tags.
type Tagger interface {
	Tags(filename string) domain.Tags
}
