package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/agrofinder-go/internal/version"
)

// NewVersionCmd constructs the `agrofinder version` subcommand. It needs no
// configuration, so the root pre-run is skipped.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:              "version",
		Short:            "Print the agrofinder version, git commit, and build date",
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
