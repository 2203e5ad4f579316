package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"docsearch/internal/domain"
	docerrors "docsearch/internal/errors"
	"docsearch/internal/usecase"
)

// searchFlags are shared by search and multistep.
type searchFlags struct {
	query        string
	limit        int
	filters      []string
	maxPerSource int
	json         bool
}

func (f *searchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "search query (or pass it as arguments)")
	cmd.Flags().IntVarP(&f.limit, "limit", "k", 0, "number of results (default from config)")
	cmd.Flags().StringArrayVar(&f.filters, "filter", nil, "metadata filter key=value, repeatable (e.g. coleccion=norma)")
	cmd.Flags().IntVar(&f.maxPerSource, "max-per-source", 0, "cap results per source in multi-step searches (default from config)")
	cmd.Flags().BoolVar(&f.json, "json", false, "output as JSON")
}

func (f *searchFlags) resolve(g *globals, args []string) (string, int, domain.Filter, error) {
	query := f.query
	if query == "" {
		query = strings.Join(args, " ")
	}
	if strings.TrimSpace(query) == "" {
		return "", 0, nil, docerrors.New(docerrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("pass a query with -q or as arguments")
	}

	limit := f.limit
	if limit <= 0 {
		limit = g.cfg.Search.Limit
	}

	filter, err := domain.ParseFilter(f.filters)
	if err != nil {
		return "", 0, nil, docerrors.ValidationError("invalid filter", err)
	}
	return query, limit, filter, nil
}

func newSearchCmd(g *globals) *cobra.Command {
	var (
		flags   searchFlags
		method  string
		rewrite bool
		rerank  bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the indexed corpus",
		Long: `Search the corpus with one retrieval method: hybrid (semantic + BM25 fused
with reciprocal rank fusion), semantic, keyword or multistep.

Examples:
  docsearch search -q "pandeo lateral torsional"
  docsearch search -q "conexiones abulonadas" --method keyword -k 10
  docsearch search -q "viento sobre cubiertas" --filter coleccion=norma --rerank --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, limit, filter, err := flags.resolve(g, args)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("method") {
				method = g.cfg.Search.Method
			}
			m, err := domain.ParseMethod(method)
			if err != nil {
				return docerrors.ValidationError(err.Error(), nil).
					WithSuggestion("use one of: hybrid, semantic, keyword, multistep")
			}
			if !cmd.Flags().Changed("rewrite") {
				rewrite = g.cfg.Search.Rewrite
			}
			if !cmd.Flags().Changed("rerank") {
				rerank = g.cfg.Search.Rerank
			}

			a, err := g.open(openOptions{embedder: true})
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.search.Search(cmd.Context(), usecase.SearchRequest{
				Query:        query,
				Limit:        limit,
				Filter:       filter,
				Method:       m,
				Rewrite:      rewrite,
				Rerank:       rerank,
				MaxPerSource: flags.maxPerSource,
			})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp, flags.json)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&method, "method", "m", "hybrid", "retrieval method: hybrid, semantic, keyword, multistep")
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "rewrite the query with the chat model first")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "rerank candidates with the chat model")
	return cmd
}

func newMultiStepCmd(g *globals) *cobra.Command {
	var (
		flags     searchFlags
		noRewrite bool
	)

	cmd := &cobra.Command{
		Use:   "multistep [query]",
		Short: "Collection-aware search with source diversity",
		Long: `Detect which collection the query is about (norma, material, software,
memoria, pliego), search inside it and across the whole corpus, and merge
both result lists so that no single source dominates.

Examples:
  docsearch multistep -q "ejemplo de cálculo de un galpón"
  docsearch multistep -q "perfiles ASTM A36" --max-per-source 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, limit, filter, err := flags.resolve(g, args)
			if err != nil {
				return err
			}

			a, err := g.open(openOptions{embedder: true})
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.search.MultiStepSearch(cmd.Context(), usecase.MultiStepRequest{
				Query:        query,
				Limit:        limit,
				Filter:       filter,
				Rewrite:      !noRewrite,
				MaxPerSource: flags.maxPerSource,
			})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp, flags.json)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&noRewrite, "no-rewrite", false, "skip the query rewrite step")
	return cmd
}

func fallbackNotice(stage domain.Stage) string {
	switch stage {
	case domain.StageRewrite:
		return "Query rewriting unavailable, searched the original query."
	case domain.StageEmbedding:
		return "Embedding unavailable, showing keyword results only."
	case domain.StageVector:
		return "Vector search failed, showing keyword results only."
	case domain.StageKeyword:
		return "Keyword search failed, showing semantic results only."
	case domain.StageRerank:
		return "Reranking unavailable, showing fused order."
	default:
		return fmt.Sprintf("Stage %s fell back.", stage)
	}
}

func printResponse(out io.Writer, resp *usecase.SearchResponse, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	st := stylesFor(out)
	if resp.Status == usecase.StatusEmptyCorpus {
		fmt.Fprintln(out, st.Warning.Render("No documents indexed. Run 'docsearch index' first."))
		return nil
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	header := fmt.Sprintf("Found %d results for: %s", len(resp.Results), resp.Query)
	fmt.Fprintln(out, st.Header.Render(header))
	if resp.RewrittenQuery != "" && resp.RewrittenQuery != resp.Query {
		fmt.Fprintf(out, "%s %s\n", st.Label.Render("Rewritten:"), resp.RewrittenQuery)
	}
	if resp.DetectedCollection != domain.CollectionNone {
		fmt.Fprintf(out, "%s %s\n", st.Label.Render("Collection:"), resp.DetectedCollection)
	}
	for _, stage := range resp.Fallbacks {
		fmt.Fprintln(out, st.Warning.Render(fallbackNotice(stage)))
	}
	fmt.Fprintln(out)

	for i, r := range resp.Results {
		fmt.Fprintf(out, "[%d] %s #%d  %s %.3f",
			i+1, st.Source.Render(r.Metadata.Source), r.Metadata.ChunkIndex,
			st.confidence(r.Confidence()), r.Similarity())
		if r.Metadata.Collection != "" {
			fmt.Fprintf(out, "  %s", st.Label.Render(r.Metadata.Collection))
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "    %s\n\n", preview(r.Content, 300))
	}

	t := resp.Timings
	summary := fmt.Sprintf("%s | total %dms (embed %dms, bm25 %dms, search %dms, fusion %dms",
		resp.Method, t.TotalMs, t.EmbeddingMs, t.BM25Ms, t.SearchMs, t.FusionMs)
	if t.RewriteMs > 0 {
		summary += fmt.Sprintf(", rewrite %dms", t.RewriteMs)
	}
	if t.RerankMs > 0 {
		summary += fmt.Sprintf(", rerank %dms", t.RerankMs)
	}
	summary += ")"
	if resp.Cached {
		summary += " cached"
	}
	fmt.Fprintln(out, st.Dim.Render(summary))
	return nil
}
