package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/agrofinder-go/internal/server"
)

// startupProbeTimeout bounds the dependency check run before listening.
const startupProbeTimeout = 10 * time.Second

// NewServeCmd constructs the `agrofinder serve` command, which starts the
// HTTP API and, when configured, serves the built frontend.
func NewServeCmd(rt *runtime) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AgroFinder HTTP API",
		Long: `Start the AgroFinder HTTP API.

Routes: POST /api/search, POST /api/ingest, POST /api/upload,
GET /api/document/{path}, GET /api/stats, GET /api/health, GET /api/ready
and GET /metrics. Set AGRO_API_KEY to require a Bearer token on /api/*.

Examples:
  agrofinder serve
  agrofinder serve --port 9090
  VECTOR_BACKEND=qdrant GCS_BUCKET_NAME=agro-docs agrofinder serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s := rt.settings
			log := rt.log
			if cmd.Flags().Changed("host") {
				s.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				s.Server.Port = port
			}

			log.Info("serve starting",
				slog.String("environment", s.Environment),
				slog.String("vector_backend", s.Vector.Backend),
				slog.String("blob_backend", s.Blob.Backend),
			)

			deps, err := build(ctx, s, log, buildOptions{blobs: true})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer deps.Close()

			pingers := deps.pingers()
			checkDependencies(ctx, pingers, log)

			srv, err := server.New(server.Deps{
				Retriever: deps.retriever,
				Pipeline:  deps.pipeline,
				Blobs:     deps.blobs,
			}, &server.Config{
				Host:           s.Server.Host,
				Port:           s.Server.Port,
				Environment:    s.Environment,
				Logger:         log,
				Pingers:        pingers,
				RateLimit:      s.Server.RateLimit,
				RateBurst:      s.Server.RateBurst,
				APIKey:         s.Server.APIKey,
				MaxUploadBytes: s.Server.MaxUploadBytes(),
				StaticDir:      s.Server.StaticDir,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides AGRO_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (overrides AGRO_PORT)")

	return cmd
}

// checkDependencies probes every dependency once before the server starts.
// Failures are logged, not fatal: /api/ready keeps reporting them until the
// dependency recovers.
func checkDependencies(ctx context.Context, pingers []server.Pinger, log *slog.Logger) {
	pctx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()

	if err := server.NewMultiPinger(pingers...).Ping(pctx); err != nil {
		log.Warn("startup dependency check failed", slog.Any("error", err))
		return
	}
	log.Info("startup dependency check passed", slog.Int("dependencies", len(pingers)))
}
