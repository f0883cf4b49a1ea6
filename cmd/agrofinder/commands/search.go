package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

// NewSearchCmd constructs the `agrofinder search` command, which runs one
// semantic query against the vector store.
func NewSearchCmd(rt *runtime) *cobra.Command {
	var topK int
	var category string
	var from string
	var to string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents with a natural-language query",
		Long: `Embed the query and print the most similar chunks.

Dates accept YYYY-MM-DD or RFC 3339; a bare --to date covers the whole day.

Examples:
  agrofinder search "adubação orgânica para milho"
  agrofinder search "trator usado" --category anuncio --from 2024-01-01 --top-k 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			q := rag.Query{Text: args[0], TopK: topK, Category: rag.Category(category)}
			var err error
			if q.DateFrom, err = rag.ParseDateBound(from, false); err != nil {
				return fmt.Errorf("search: --from: %w", err)
			}
			if q.DateTo, err = rag.ParseDateBound(to, true); err != nil {
				return fmt.Errorf("search: --to: %w", err)
			}

			deps, err := build(ctx, rt.settings, rt.log, buildOptions{})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer deps.Close()

			results, err := deps.retriever.Search(ctx, q)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Maximum number of results (default: TOP_K_RESULTS)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Restrict to one category: anuncio or organico")
	cmd.Flags().StringVar(&from, "from", "", "Earliest upload date (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "Latest upload date (inclusive)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}

// snippetLen caps the chunk text shown per result.
const snippetLen = 240

// printResults writes a ranked, human-readable result list.
func printResults(w io.Writer, results []rag.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d. %s [%s] page %d  score %.4f\n", i+1, r.Filename, r.Category, r.PageNumber, r.Similarity)
		fmt.Fprintf(w, "   %s\n", snippet(r.ChunkText, snippetLen))
		if r.DocumentURL != "" {
			fmt.Fprintf(w, "   %s\n", r.DocumentURL)
		}
	}
}

// snippet collapses whitespace and truncates s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
