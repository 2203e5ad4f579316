package fs

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	docerrors "docsearch/internal/errors"
	"docsearch/internal/port"
)

var _ port.Walker = (*Walker)(nil)

// Walker finds extracted-text files under a root directory using doublestar
// include and exclude patterns matched against slash-separated relative paths.
type Walker struct {
	includes []string
	excludes []string
}

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*.txt", "**/*.md"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// Walk returns matching files sorted by path.
func (w *Walker) Walk(root string) ([]port.SourceFile, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		return nil, docerrors.New(docerrors.ErrCodeFileNotFound, "cannot read directory", err).
			WithDetail("path", root)
	}

	var files []port.SourceFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && w.Excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.included(rel) || w.Excluded(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, port.SourceFile{
			Path:    path,
			Name:    filepath.Base(path),
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Matches reports whether a path under root would be picked up by Walk.
func (w *Walker) Matches(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	return w.included(rel) && !w.Excluded(rel)
}

func (w *Walker) included(path string) bool {
	return matchAny(w.includes, path)
}

// Excluded reports whether a slash-separated relative path matches an exclude pattern.
func (w *Walker) Excluded(path string) bool {
	return matchAny(w.excludes, path)
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// ReadText reads an extracted-text file. Invalid UTF-8 is replaced rather
// than rejected since extraction output is often messy.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", docerrors.New(docerrors.ErrCodeFileNotFound, "file not found", err).WithDetail("path", path)
		}
		return "", err
	}
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), "�"), nil
	}
	return string(data), nil
}
