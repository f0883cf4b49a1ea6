package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatsCmd constructs the `agrofinder stats` command.
func NewStatsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show vector store statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			deps, err := build(ctx, rt.settings, rt.log, buildOptions{})
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer deps.Close()

			st, err := deps.retriever.IndexStats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "backend:     %s\n", st.Backend)
			if st.Collection != "" {
				fmt.Fprintf(w, "collection:  %s\n", st.Collection)
			}
			fmt.Fprintf(w, "dimension:   %d\n", st.Dimension)
			fmt.Fprintf(w, "chunks:      %d\n", st.Count)
			fmt.Fprintf(w, "environment: %s\n", rt.settings.Environment)
			return nil
		},
	}
}
