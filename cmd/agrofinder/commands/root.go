// Package commands defines all Cobra CLI commands for the agrofinder binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/agrofinder-go/internal/audit"
	"github.com/54b3r/agrofinder-go/internal/config"
	"github.com/54b3r/agrofinder-go/internal/logging"
)

// runtime carries the state resolved by the root command to subcommands.
type runtime struct {
	// configPath holds the --config flag value.
	configPath string
	// settings is resolved in PersistentPreRunE.
	settings config.Settings
	log      *slog.Logger
}

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	rt := &runtime{log: slog.Default()}

	root := &cobra.Command{
		Use:   "agrofinder",
		Short: "AgroFinder: semantic search over agricultural PDF documents",
		Long: `AgroFinder indexes PDF documents (ads and organic-farming material) into a
vector store and answers natural-language queries with the most relevant
passages, filtered by category and upload date.

Configuration is read from environment variables, a .env file and an
optional YAML file (~/.agrofinder/config.yaml). Environment variables win.
See 'agrofinder --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", "", "Path to YAML config file (default: ~/.agrofinder/config.yaml)")

	root.AddCommand(
		NewServeCmd(rt),
		NewIngestCmd(rt),
		NewIndexCmd(rt),
		NewSearchCmd(rt),
		NewStatsCmd(rt),
		NewVersionCmd(),
	)

	return root
}

// init loads configuration, builds the process logger and writes the audit
// entry for the command.
func (rt *runtime) init(cmd *cobra.Command) error {
	path, err := config.Load(rt.configPath, logging.FromEnv())
	if err != nil {
		return err
	}

	rt.settings, err = config.FromEnv()
	if err != nil {
		return err
	}

	rt.log = logging.New(logging.Options{
		Level:  rt.settings.Logging.Level,
		Format: rt.settings.Logging.Format,
	})
	slog.SetDefault(rt.log)

	ctx := logging.WithLogger(cmd.Context(), rt.log)
	cmd.SetContext(ctx)

	audit.LogCommandStart(ctx, rt.log, cmd.Name(), path)
	return nil
}
