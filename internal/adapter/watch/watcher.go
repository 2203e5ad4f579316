// Package watch reports debounced file changes under a directory tree.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"docsearch/internal/logging"
)

const DefaultDebounce = 500 * time.Millisecond

// Change is the settled state of one path after a quiet period.
type Change struct {
	Path    string
	Removed bool
}

// Watcher watches a directory tree with fsnotify. Events are coalesced per
// path; once no event has arrived for the debounce window the batch is
// handed to the handler, and each path is reported as present or removed
// depending on what is on disk at that moment.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	debounce time.Duration
	skipDir  func(rel string) bool
	logger   *slog.Logger
}

// New creates a watcher for root. skipDir, when set, receives slash-separated
// directory paths relative to root and prunes those that return true.
func New(root string, debounce time.Duration, skipDir func(rel string) bool, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if skipDir == nil {
		skipDir = func(string) bool { return false }
	}
	return &Watcher{
		fsw:      fsw,
		root:     abs,
		debounce: debounce,
		skipDir:  skipDir,
		logger:   logging.OrDefault(logger),
	}, nil
}

// Run blocks until ctx is done, calling handle with each settled batch.
// handle runs on the watcher goroutine; events arriving meanwhile are
// buffered by fsnotify.
func (w *Watcher) Run(ctx context.Context, handle func([]Change)) error {
	defer w.fsw.Close()

	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory",
							slog.String("path", event.Name), slog.String("error", err.Error()))
					}
					continue
				}
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			handle(settle(pending))
			pending = make(map[string]struct{})
		}
	}
}

func settle(pending map[string]struct{}) []Change {
	changes := make([]Change, 0, len(pending))
	for path := range pending {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			changes = append(changes, Change{Path: path, Removed: true})
		case err == nil && !info.IsDir():
			changes = append(changes, Change{Path: path})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		rel = filepath.ToSlash(rel)
		if rel != "." && w.skipDir(rel+"/") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
