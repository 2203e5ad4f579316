package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/usecase"
)

// evalRun is the outcome of one configuration.
type evalRun struct {
	Config    string               `json:"config"`
	Aggregate usecase.Aggregate    `json:"aggregate"`
	Results   []usecase.EvalResult `json:"results"`
}

func newEvalCmd(g *globals) *cobra.Command {
	var (
		truthPath string
		limit     int
		compare   bool
		method    string
		rewrite   bool
		rerank    bool
		asJSON    bool
		output    string
	)

	cmd := &cobra.Command{
		Use:   "eval [ground-truth]",
		Short: "Measure retrieval quality against a ground-truth set",
		Long: `Run every query of a ground-truth file and score the retrieved sources with
recall, precision, MRR and NDCG. With --compare, every search configuration
is evaluated and the results are shown side by side.

Examples:
  docsearch eval ground-truth.yaml
  docsearch eval -g ground-truth.yaml --compare -k 10 -o results.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				truthPath = args[0]
			}
			queries, err := usecase.LoadGroundTruth(truthPath)
			if err != nil {
				return err
			}
			if len(queries) == 0 {
				return docerrors.ValidationError("ground truth has no queries", nil).WithDetail("path", truthPath)
			}
			if limit <= 0 {
				limit = g.cfg.Search.Limit
			}

			configs := usecase.ComparisonConfigs(limit)
			if !compare {
				m, err := domain.ParseMethod(method)
				if err != nil {
					return docerrors.ValidationError(err.Error(), nil)
				}
				configs = []usecase.EvalConfig{{Name: m.String(), Method: m, Rewrite: rewrite, Rerank: rerank, Limit: limit}}
			}

			a, err := g.open(openOptions{embedder: true})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			st := stylesFor(out)
			evaluator := usecase.NewEvaluateUseCase(a.search, a.logger)

			runs := make([]evalRun, 0, len(configs))
			for _, c := range configs {
				progress := newEvalProgress(cmd.ErrOrStderr(), c.Name, len(queries))
				results, err := evaluator.Run(cmd.Context(), c, queries, progress)
				if err != nil {
					return err
				}
				runs = append(runs, evalRun{Config: c.Name, Aggregate: usecase.AggregateResults(results), Results: results})
			}

			if output != "" {
				if err := writeEvalOutput(output, runs); err != nil {
					return err
				}
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			printEvalSummary(out, st, runs, len(queries))
			if output != "" {
				fmt.Fprintf(out, "\nResults written to %s\n", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&truthPath, "ground-truth", "g", "ground-truth.yaml", "ground-truth file (YAML or JSON)")
	cmd.Flags().IntVarP(&limit, "limit", "k", 0, "results per query (default from config)")
	cmd.Flags().BoolVar(&compare, "compare", false, "evaluate every search configuration")
	cmd.Flags().StringVarP(&method, "method", "m", "hybrid", "retrieval method when not comparing")
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "rewrite queries when not comparing")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "rerank results when not comparing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write per-query results as JSON to this file")
	return cmd
}

func newEvalProgress(w io.Writer, name string, total int) func(usecase.EvalResult) {
	if !isTerminal(w) {
		return nil
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(name),
		progressbar.OptionClearOnFinish(),
	)
	return func(usecase.EvalResult) { _ = bar.Add(1) }
}

func writeEvalOutput(path string, runs []evalRun) error {
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return docerrors.StorageError("failed to write evaluation results", err).WithDetail("path", path)
	}
	return nil
}

func printEvalSummary(out io.Writer, st styles, runs []evalRun, queries int) {
	fmt.Fprintf(out, "%s (%d queries)\n\n", st.Header.Render("Retrieval evaluation"), queries)

	name := lipgloss.NewStyle().Width(28)
	num := lipgloss.NewStyle().Width(10).Align(lipgloss.Right)
	fmt.Fprintln(out, st.Label.Render(name.Render("CONFIG")+num.Render("RECALL")+num.Render("PRECISION")+num.Render("MRR")+num.Render("NDCG")))

	best := 0
	for i, r := range runs {
		if r.Aggregate.AvgRecall > runs[best].Aggregate.AvgRecall {
			best = i
		}
	}
	for i, r := range runs {
		row := name.Render(r.Config) +
			num.Render(fmt.Sprintf("%.3f", r.Aggregate.AvgRecall)) +
			num.Render(fmt.Sprintf("%.3f", r.Aggregate.AvgPrecision)) +
			num.Render(fmt.Sprintf("%.3f", r.Aggregate.AvgMRR)) +
			num.Render(fmt.Sprintf("%.3f", r.Aggregate.AvgNDCG))
		if len(runs) > 1 && i == best {
			row = st.Success.Render(row)
		}
		fmt.Fprintln(out, row)
	}

	last := runs[len(runs)-1]
	if cats := last.Aggregate.Categories(); len(cats) > 1 {
		fmt.Fprintf(out, "\n%s %s\n", st.Header.Render("By category"), st.Dim.Render(last.Config))
		for _, c := range cats {
			s := last.Aggregate.ByCategory[c]
			fmt.Fprintf(out, "  %s n=%d recall=%.3f mrr=%.3f\n", name.Render(c), s.Count, s.AvgRecall, s.AvgMRR)
		}
	}

	if failed := usecase.Failed(last.Results); len(failed) > 0 {
		fmt.Fprintf(out, "\n%s %s\n", st.Warning.Render("Queries with no expected source found"), st.Dim.Render(last.Config))
		for _, f := range failed {
			fmt.Fprintf(out, "  %s %s\n", f.QueryID, preview(f.Query, 60))
		}
	}
}
