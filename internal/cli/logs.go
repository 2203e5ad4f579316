package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"docsearch/internal/adapter/querylog"
	docerrors "docsearch/internal/errors"
)

func newLogsCmd(g *globals) *cobra.Command {
	var (
		top    int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Summarize the query log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.cfg.QueryLogPath(g.rootDir)
			if path == "" {
				return docerrors.ConfigError("query log is disabled", nil).
					WithSuggestion("set search.query_log in the config file")
			}

			entries, err := querylog.Read(path)
			if err != nil {
				return err
			}
			summary := querylog.Analyze(entries, top)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}

			st := stylesFor(out)
			if summary.Queries == 0 {
				fmt.Fprintf(out, "No queries logged in %s\n", path)
				return nil
			}

			fmt.Fprintln(out, st.Header.Render("Query log"))
			fmt.Fprintf(out, "  Queries:      %d\n", summary.Queries)
			fmt.Fprintf(out, "  Period:       %s to %s\n",
				summary.FirstQueryAt.Local().Format("2006-01-02 15:04"),
				summary.LastQueryAt.Local().Format("2006-01-02 15:04"))
			fmt.Fprintf(out, "  Avg latency:  %.0fms\n", summary.AvgTotalMs)
			fmt.Fprintf(out, "  Rewritten:    %d\n", summary.Rewritten)
			fmt.Fprintf(out, "  No results:   %d\n", summary.ZeroResults)

			methods := make([]string, 0, len(summary.ByMethod))
			for m := range summary.ByMethod {
				methods = append(methods, m)
			}
			sort.Strings(methods)
			fmt.Fprintf(out, "\n%s\n", st.Header.Render("By method"))
			for _, m := range methods {
				fmt.Fprintf(out, "  %-10s %d\n", m, summary.ByMethod[m])
			}

			if len(summary.TopSources) > 0 {
				fmt.Fprintf(out, "\n%s\n", st.Header.Render("Most retrieved sources"))
				for _, s := range summary.TopSources {
					fmt.Fprintf(out, "  %4d  %s\n", s.Count, s.Source)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&top, "top", "n", 10, "number of top sources to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
