package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"docsearch/internal/adapter/fs"
	"docsearch/internal/adapter/retriever"
	"docsearch/internal/adapter/store"
	"docsearch/internal/adapter/watch"
	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/logging"
	"docsearch/internal/port"
)

// DefaultBatchSize is how many chunks are embedded per request.
const DefaultBatchSize = 100

// IndexUseCase ingests extracted-text files into the vector store and keeps
// the keyword index in step with it.
type IndexUseCase struct {
	store      *store.VectorStore
	keywords   *retriever.KeywordIndex
	walker     port.Walker
	chunker    port.Chunker
	embedder   port.Embedder
	sourceType domain.SourceType
	batchSize  int
	onChange   func()
	logger     *slog.Logger
}

// IndexOption configures an IndexUseCase.
type IndexOption func(*IndexUseCase)

func WithBatchSize(n int) IndexOption {
	return func(u *IndexUseCase) {
		if n > 0 {
			u.batchSize = n
		}
	}
}

func WithSourceType(t domain.SourceType) IndexOption {
	return func(u *IndexUseCase) {
		if t != "" {
			u.sourceType = t
		}
	}
}

// WithChangeHook registers fn to run after every ingest that changed the
// corpus. The search facade uses it to drop cached results.
func WithChangeHook(fn func()) IndexOption {
	return func(u *IndexUseCase) { u.onChange = fn }
}

func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(u *IndexUseCase) { u.logger = logging.OrDefault(l) }
}

func NewIndexUseCase(
	st *store.VectorStore,
	keywords *retriever.KeywordIndex,
	walker port.Walker,
	chunker port.Chunker,
	embedder port.Embedder,
	opts ...IndexOption,
) *IndexUseCase {
	u := &IndexUseCase{
		store:      st,
		keywords:   keywords,
		walker:     walker,
		chunker:    chunker,
		embedder:   embedder,
		sourceType: domain.SourceTypePDF,
		batchSize:  DefaultBatchSize,
		onChange:   func() {},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// IndexOptions controls one ingest run.
type IndexOptions struct {
	// Force re-ingests sources that are already indexed.
	Force bool
	// Progress is called before each file and once more when done.
	Progress func(Progress)
}

// Progress reports ingest progress.
type Progress struct {
	Source string
	Done   int
	Total  int
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	ChunksCreated int
	Errors        []string
	Duration      time.Duration
}

// Index ingests every matching file under root.
func (u *IndexUseCase) Index(ctx context.Context, root string, opts IndexOptions) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}
	progress := opts.Progress
	if progress == nil {
		progress = func(Progress) {}
	}

	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		progress(Progress{Source: file.Name, Done: i, Total: len(files)})

		if !opts.Force {
			indexed, err := u.store.IsIndexed(file.Name)
			if err != nil {
				return result, err
			}
			if indexed {
				result.FilesSkipped++
				continue
			}
		}

		n, err := u.IndexFile(ctx, file.Path)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", file.Name, err))
			u.logger.Warn("failed to index file", slog.String("path", file.Path), slog.String("error", err.Error()))
			continue
		}
		result.FilesIndexed++
		result.ChunksCreated += n
	}
	progress(Progress{Done: len(files), Total: len(files)})

	if result.FilesIndexed > 0 || !u.keywords.Exists() {
		if err := u.refreshKeywords(ctx); err != nil {
			return result, err
		}
	}

	result.Duration = time.Since(start)
	u.logger.Info("index complete",
		slog.Int("indexed", result.FilesIndexed),
		slog.Int("skipped", result.FilesSkipped),
		slog.Int("failed", result.FilesFailed),
		slog.Int("chunks", result.ChunksCreated),
		slog.Duration("elapsed", result.Duration))
	return result, nil
}

// IndexFile chunks, embeds and stores one file, replacing any previous
// version of the same source. It does not touch the keyword index.
func (u *IndexUseCase) IndexFile(ctx context.Context, path string) (int, error) {
	source := filepath.Base(path)
	text, err := fs.ReadText(path)
	if err != nil {
		return 0, err
	}

	chunks := u.chunker.Chunk(source, u.sourceType, text)

	// Embed before touching the stored version, so a failing provider leaves
	// the previous version searchable.
	embeddings := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += u.batchSize {
		end := min(start+u.batchSize, len(chunks))
		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Content
		}
		batch, err := u.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, docerrors.New(docerrors.ErrCodeEmbeddingFailed, "failed to embed chunks", err).
				WithDetail("source", source)
		}
		embeddings = append(embeddings, batch...)
	}

	indexed, err := u.store.IsIndexed(source)
	if err != nil {
		return 0, err
	}
	if indexed {
		if _, err := u.store.DeleteBySource(ctx, source); err != nil {
			return 0, fmt.Errorf("failed to clear previous version: %w", err)
		}
	}
	if len(chunks) == 0 {
		u.logger.Debug("no chunks extracted", slog.String("source", source))
		return 0, nil
	}

	if err := u.store.Add(ctx, chunks, embeddings); err != nil {
		return 0, err
	}
	u.logger.Debug("indexed source", slog.String("source", source), slog.Int("chunks", len(chunks)))
	return len(chunks), nil
}

func (u *IndexUseCase) refreshKeywords(ctx context.Context) error {
	if err := u.keywords.Rebuild(ctx); err != nil {
		return fmt.Errorf("failed to rebuild keyword index: %w", err)
	}
	u.onChange()
	return nil
}

// WatchEvent reports what Watch did with one changed file.
type WatchEvent struct {
	Source  string
	Removed bool
	Chunks  int
	Err     error
}

// Watch keeps the corpus in step with root until ctx is done. Changed files
// are re-ingested, removed ones deleted, and the keyword index is rebuilt
// once per settled batch.
func (u *IndexUseCase) Watch(ctx context.Context, root string, debounce time.Duration, notify func(WatchEvent)) error {
	if notify == nil {
		notify = func(WatchEvent) {}
	}
	w, err := watch.New(root, debounce, u.walker.Excluded, u.logger)
	if err != nil {
		return err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	err = w.Run(ctx, func(changes []watch.Change) {
		changed := u.applyChanges(ctx, absRoot, changes, notify)
		if changed {
			if err := u.refreshKeywords(ctx); err != nil {
				u.logger.Error("keyword rebuild after change failed", slog.String("error", err.Error()))
			}
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (u *IndexUseCase) applyChanges(ctx context.Context, root string, changes []watch.Change, notify func(WatchEvent)) bool {
	changed := false
	for _, c := range changes {
		if !u.walker.Matches(root, c.Path) {
			continue
		}
		source := filepath.Base(c.Path)
		ev := WatchEvent{Source: source, Removed: c.Removed}

		if c.Removed {
			removed, err := u.store.DeleteBySource(ctx, source)
			ev.Err = err
			changed = changed || removed
		} else {
			ev.Chunks, ev.Err = u.IndexFile(ctx, c.Path)
			changed = changed || ev.Err == nil
		}
		if ev.Err != nil {
			u.logger.Warn("watch update failed", slog.String("source", source), slog.String("error", ev.Err.Error()))
		}
		notify(ev)
	}
	return changed
}
