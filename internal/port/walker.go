package port

// SourceFile is a discovered file ready for ingest.
type SourceFile struct {
	Path    string // absolute path
	Name    string // source name, the base filename
	ModTime int64
	Size    int64
}

// Walker discovers ingestable files under a root directory.
type Walker interface {
	Walk(root string) ([]SourceFile, error)
	// Matches reports whether path under root would be returned by Walk.
	Matches(root, path string) bool
	// Excluded reports whether a root-relative path is excluded.
	Excluded(rel string) bool
}
