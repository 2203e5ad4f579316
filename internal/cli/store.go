package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
)

func newStatsCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show what the store contains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(openOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.search.Stats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					domain.Stats
					KeywordIndex bool `json:"keywordIndex"`
				}{stats, a.search.KeywordIndexReady()})
			}
			printStats(out, stylesFor(out), stats, a.search.KeywordIndexReady())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printStats(out io.Writer, st styles, stats domain.Stats, keywordReady bool) {
	fmt.Fprintln(out, st.Header.Render("Corpus"))
	fmt.Fprintf(out, "  Sources:       %d\n", len(stats.Sources))
	fmt.Fprintf(out, "  Chunks:        %d\n", stats.TotalChunks)
	keyword := st.Warning.Render("missing")
	if keywordReady {
		keyword = st.Success.Render("ready")
	}
	fmt.Fprintf(out, "  Keyword index: %s\n", keyword)

	if len(stats.Sources) == 0 {
		return
	}
	fmt.Fprintln(out)

	name := lipgloss.NewStyle().Width(48)
	num := lipgloss.NewStyle().Width(8).Align(lipgloss.Right)
	fmt.Fprintln(out, st.Label.Render(name.Render("SOURCE")+num.Render("CHUNKS")+"  INDEXED"))
	for _, s := range stats.Sources {
		fmt.Fprintf(out, "%s%s  %s\n",
			name.Render(preview(s.Name, 46)),
			num.Render(fmt.Sprint(s.Chunks)),
			st.Dim.Render(s.IndexedAt.Local().Format("2006-01-02 15:04")))
	}
}

func newDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <source>...",
		Short: "Remove sources from the store",
		Long: `Remove every chunk of the named sources from the vector store and rebuild
the keyword index. Sources are named by file name, as shown by 'docsearch stats'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(openOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			st := stylesFor(out)
			var missing []string
			for _, source := range args {
				removed, err := a.search.DeleteSource(cmd.Context(), source)
				if err != nil {
					return err
				}
				if !removed {
					missing = append(missing, source)
					continue
				}
				fmt.Fprintf(out, "%s %s\n", st.Success.Render("deleted"), source)
			}
			if len(missing) > 0 {
				return docerrors.New(docerrors.ErrCodeFileNotFound, "source not indexed: "+strings.Join(missing, ", "), nil).
					WithSuggestion("run 'docsearch stats' to list indexed sources")
			}
			return nil
		},
	}
}

func newKeywordCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyword",
		Short: "Manage the BM25 keyword index",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the keyword index from the vector store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(openOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.keywords.Rebuild(cmd.Context()); err != nil {
				return err
			}
			a.purgeCache()

			idx, err := a.keywords.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d chunks, %d terms\n",
				stylesFor(out).Success.Render("keyword index rebuilt:"), idx.TotalDocs, len(idx.Terms))
			return nil
		},
	})
	return cmd
}

func newMigrateCmd(g *globals) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the store to the current schema",
		Long: `Check the store schema version and run any pending migrations. Legacy
single-file vector stores are imported into per-source shards. Other
commands migrate automatically; this one reports what it does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(openOptions{skipMigrate: true})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			st := stylesFor(out)

			result, err := a.store.CheckMigration()
			if err != nil {
				return err
			}
			switch {
			case result.NeedsRebuild:
				return docerrors.New(docerrors.ErrCodeMigrationFailed, result.Reason, nil).
					WithSuggestion("upgrade docsearch or re-index into a fresh store directory")
			case !result.NeedsMigration:
				fmt.Fprintf(out, "Store is up to date (schema v%d)\n", result.NewVersion)
				return nil
			case check:
				fmt.Fprintf(out, "%s %s\n", st.Warning.Render("migration pending:"), result.Reason)
				return nil
			}

			if err := a.store.Migrate(); err != nil {
				return err
			}
			if err := a.keywords.Rebuild(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s v%d -> v%d\n", st.Success.Render("migrated"), result.OldVersion, result.NewVersion)
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only report whether a migration is pending")
	return cmd
}
