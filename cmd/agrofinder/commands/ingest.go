package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/agrofinder-go/internal/ingestion"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

// NewIngestCmd constructs the `agrofinder ingest` command, which indexes one
// document that is already in the blob store.
func NewIngestCmd(rt *runtime) *cobra.Command {
	var sourcePath string
	var category string
	var meta map[string]string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index one PDF from the blob store",
		Long: `Download a PDF from the configured blob store, extract and chunk its text,
embed the chunks and store them in the vector store.

When --category is omitted it is inferred from the object path
(e.g. pdfs/organico/manual.pdf is organico).

Examples:
  agrofinder ingest --path pdfs/anuncios/trator.pdf --category anuncio
  agrofinder ingest --path pdfs/organico/manual.pdf --meta source=embrapa`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := rt.log

			cat, err := resolveCategory(category, sourcePath)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			deps, err := build(ctx, rt.settings, log, buildOptions{blobs: true})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer deps.Close()

			extras := map[string]any{"indexed_by": "cli"}
			for k, v := range meta {
				extras[k] = v
			}

			res, err := deps.pipeline.Ingest(ctx, ingestion.Request{
				SourcePath: sourcePath,
				Category:   cat,
				Metadata:   extras,
			})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("ingestion complete",
				slog.String("document_id", res.DocumentID),
				slog.Int("chunks", res.ChunkCount),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %s: document_id=%s chunks=%d\n",
				res.Filename, res.DocumentID, res.ChunkCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourcePath, "path", "", "Object path of the PDF in the blob store")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Document category: anuncio or organico (default: inferred from path)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "Extra metadata as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}

// resolveCategory parses an explicit category or infers one from the path.
func resolveCategory(explicit, objectPath string) (rag.Category, error) {
	if explicit != "" {
		return rag.ParseCategory(explicit)
	}
	if cat, ok := ingestion.InferCategory(objectPath); ok {
		return cat, nil
	}
	return "", fmt.Errorf("%w: cannot infer a category from %q, pass --category", rag.ErrInvalidCategory, objectPath)
}
