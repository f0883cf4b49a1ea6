package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/agrofinder-go/internal/ingestion"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

// NewIndexCmd constructs the `agrofinder index` command, which indexes every
// PDF under a blob store prefix.
func NewIndexCmd(rt *runtime) *cobra.Command {
	var prefix string
	var category string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index every PDF under a blob store prefix",
		Long: `Index every .pdf object under --prefix. Without --category each file's
category is inferred from its folder (anuncio, anuncios, organico,
organicos); files that cannot be placed are skipped.

Failures of individual files do not stop the run. The command exits
non-zero when any file failed.

Examples:
  agrofinder index
  agrofinder index --prefix pdfs/organico/ --category organico`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := rt.log

			var cat rag.Category
			if category != "" {
				c, err := rag.ParseCategory(category)
				if err != nil {
					return fmt.Errorf("index: %w", err)
				}
				cat = c
			}

			deps, err := build(ctx, rt.settings, log, buildOptions{blobs: true})
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer deps.Close()

			sum, err := deps.pipeline.IngestAll(ctx, prefix, cat, map[string]any{"indexed_by": "batch_script"})
			printSummary(cmd.OutOrStdout(), sum)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			log.Info("indexing complete",
				slog.Int("total", sum.Total),
				slog.Int("ingested", len(sum.Ingested)),
				slog.Int("failed", len(sum.Failed)),
				slog.Int("skipped", len(sum.Skipped)),
				slog.Int("chunks", sum.Chunks),
			)
			if len(sum.Failed) > 0 {
				return fmt.Errorf("index: %d of %d documents failed", len(sum.Failed), sum.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "pdfs/", "Blob store prefix to scan")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Category for every file: anuncio or organico (default: inferred per file)")

	return cmd
}

// printSummary writes a human-readable report of a batch run.
func printSummary(w io.Writer, sum ingestion.Summary) {
	for _, r := range sum.Ingested {
		fmt.Fprintf(w, "ok      %s (%d chunks)\n", r.Filename, r.ChunkCount)
	}
	for _, p := range sum.Skipped {
		fmt.Fprintf(w, "skipped %s (no category)\n", p)
	}
	for _, f := range sum.Failed {
		fmt.Fprintf(w, "failed  %s: %s\n", f.SourcePath, f.Error)
	}
	fmt.Fprintf(w, "\n%d found, %d indexed, %d skipped, %d failed, %d chunks\n",
		sum.Total, len(sum.Ingested), len(sum.Skipped), len(sum.Failed), sum.Chunks)
}
