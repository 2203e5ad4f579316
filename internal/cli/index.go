package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	docerrors "docsearch/internal/errors"
	"docsearch/internal/usecase"
)

func newIndexCmd(g *globals) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index extracted text files for retrieval",
		Long: `Index the text files under a directory. Each file becomes one source: it is
chunked, embedded and written to the vector store, and the keyword index is
rebuilt afterwards. Sources already in the store are skipped unless --force.

Examples:
  docsearch index .              # Index current directory
  docsearch index ./corpus -f    # Re-ingest everything`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := corpusDir(g, args)
			if err != nil {
				return err
			}

			a, err := g.open(openOptions{embedder: true})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			st := stylesFor(out)
			fmt.Fprintf(out, "Scanning %s...\n", path)

			result, err := a.index.Index(cmd.Context(), path, usecase.IndexOptions{
				Force:    force,
				Progress: newIndexProgress(cmd.ErrOrStderr()),
			})
			if err != nil {
				return err
			}

			printIndexResult(out, st, result)
			fmt.Fprintf(out, "\nStore: %s\n", a.cfg.StoreDir(a.root))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-ingest sources that are already indexed")
	return cmd
}

func newWatchCmd(g *globals) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep the index in step with a directory",
		Long: `Index the directory once, then watch it for changes. Modified files are
re-ingested and deleted files removed from the store. Stop with Ctrl+C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := corpusDir(g, args)
			if err != nil {
				return err
			}

			a, err := g.open(openOptions{embedder: true})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			st := stylesFor(out)
			if debounce <= 0 {
				debounce = a.cfg.Ingest.WatchDebounce
			}

			result, err := a.index.Index(cmd.Context(), path, usecase.IndexOptions{})
			if err != nil {
				return err
			}
			printIndexResult(out, st, result)

			fmt.Fprintf(out, "\nWatching %s (Ctrl+C to stop)\n", path)
			return a.index.Watch(cmd.Context(), path, debounce, func(ev usecase.WatchEvent) {
				ts := st.Dim.Render(time.Now().Format("15:04:05"))
				switch {
				case ev.Err != nil:
					fmt.Fprintf(out, "%s %s %s: %v\n", ts, st.Error.Render("error"), ev.Source, ev.Err)
				case ev.Removed:
					fmt.Fprintf(out, "%s %s %s\n", ts, st.Warning.Render("removed"), ev.Source)
				default:
					fmt.Fprintf(out, "%s %s %s (%d chunks)\n", ts, st.Success.Render("indexed"), ev.Source, ev.Chunks)
				}
			})
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before applying changes (default from config)")
	return cmd
}

// corpusDir resolves the directory to ingest: the argument or the root.
func corpusDir(g *globals, args []string) (string, error) {
	path := g.rootDir
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return "", docerrors.ValidationError("invalid path", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", docerrors.New(docerrors.ErrCodeFileNotFound, "path does not exist", err).
			WithDetail("path", path)
	}
	if !info.IsDir() {
		return "", docerrors.ValidationError("path is not a directory: "+path, nil)
	}
	return path, nil
}

// newIndexProgress returns a progress callback that draws a bar on
// terminals and stays silent otherwise.
func newIndexProgress(w io.Writer) func(usecase.Progress) {
	if !isTerminal(w) {
		return nil
	}

	var bar *progressbar.ProgressBar
	var startTime time.Time

	return func(p usecase.Progress) {
		if p.Total == 0 {
			return
		}
		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(w)
				}),
			)
		}

		_ = bar.Set(p.Done)

		if p.Done > 0 && p.Done < p.Total {
			elapsed := time.Since(startTime)
			rate := float64(p.Done) / elapsed.Seconds()
			if rate > 0 {
				eta := time.Duration(float64(p.Total-p.Done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] %s ETA: %s", preview(p.Source, 30), formatDuration(eta)))
			}
		}
	}
}

func printIndexResult(out io.Writer, st styles, result *usecase.IndexResult) {
	fmt.Fprintf(out, "\n%s\n", st.Header.Render("Indexing complete"))
	fmt.Fprintf(out, "  Files indexed:  %d\n", result.FilesIndexed)
	fmt.Fprintf(out, "  Files skipped:  %d (already indexed)\n", result.FilesSkipped)
	fmt.Fprintf(out, "  Files failed:   %d\n", result.FilesFailed)
	fmt.Fprintf(out, "  Chunks created: %d\n", result.ChunksCreated)
	fmt.Fprintf(out, "  Duration:       %s\n", formatDuration(result.Duration))

	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "\n%s\n", st.Warning.Render("Warnings:"))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
