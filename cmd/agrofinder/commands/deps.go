package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/54b3r/agrofinder-go/internal/blob"
	"github.com/54b3r/agrofinder-go/internal/chunker"
	"github.com/54b3r/agrofinder-go/internal/config"
	"github.com/54b3r/agrofinder-go/internal/embedder"
	"github.com/54b3r/agrofinder-go/internal/ingestion"
	"github.com/54b3r/agrofinder-go/internal/rag"
	"github.com/54b3r/agrofinder-go/internal/server"
	"github.com/54b3r/agrofinder-go/internal/store"
	"github.com/54b3r/agrofinder-go/internal/tracing"
	"github.com/54b3r/agrofinder-go/internal/version"
)

// components is the dependency graph shared by the commands. Build it with
// build and release it with Close.
type components struct {
	provider  *embedder.Provider
	store     rag.VectorStore
	blobs     blob.Store
	retriever *rag.Retriever
	pipeline  *ingestion.Pipeline

	closers []func()
}

// buildOptions selects the optional parts of the graph.
type buildOptions struct {
	// blobs builds the blob store and the ingestion pipeline.
	blobs bool
}

// build constructs every component from s. The vector store is made ready
// before returning, so a dimension mismatch fails here rather than on the
// first request.
func build(ctx context.Context, s config.Settings, log *slog.Logger, opts buildOptions) (c *components, err error) {
	c = &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	flush, enabled := tracing.Enable(tracing.Config{
		Host:      s.Tracing.Host,
		PublicKey: s.Tracing.PublicKey,
		SecretKey: s.Tracing.SecretKey,
		Release:   version.Version,
	})
	c.closers = append(c.closers, flush)
	if enabled {
		log.Info("langfuse tracing enabled")
	} else {
		log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
	}

	if err := embedder.Validate(s.Embedding, log); err != nil {
		return c, err
	}
	c.provider, err = embedder.New(ctx, s.Embedding)
	if err != nil {
		return c, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", c.provider.Backend().Name()),
		slog.String("model", c.provider.Backend().Model()),
		slog.Int("dimensions", c.provider.Dimensions()),
	)

	c.store, err = newVectorStore(s, c.provider.Dimensions(), log)
	if err != nil {
		return c, err
	}
	c.closers = append(c.closers, func() { _ = c.store.Close() })
	if err := c.store.EnsureReady(ctx); err != nil {
		return c, fmt.Errorf("vector store not ready: %w", err)
	}

	c.retriever, err = rag.NewRetriever(rag.RetrieverConfig{
		Embedder:    c.provider,
		Store:       c.store,
		DefaultTopK: s.TopK,
		Logger:      log,
	})
	if err != nil {
		return c, err
	}

	if !opts.blobs {
		return c, nil
	}

	c.blobs, err = newBlobStore(ctx, s)
	if err != nil {
		return c, err
	}
	if closer, ok := c.blobs.(io.Closer); ok {
		c.closers = append(c.closers, func() { _ = closer.Close() })
	}

	chk, err := chunker.New(s.ChunkSize, s.ChunkOverlap)
	if err != nil {
		return c, err
	}
	c.pipeline, err = ingestion.NewPipeline(ingestion.Config{
		Blobs:    c.blobs,
		Embedder: c.provider,
		Store:    c.store,
		Chunker:  chk,
	})
	if err != nil {
		return c, err
	}
	return c, nil
}

// Close releases components in reverse construction order.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// pingers returns the readiness probes for every built component that
// supports one: vector store, blob store and embedder, in that order.
func (c *components) pingers() []server.Pinger {
	var out []server.Pinger
	if p, ok := c.store.(server.Pinger); ok {
		out = append(out, p)
	}
	if p, ok := c.blobs.(server.Pinger); ok {
		out = append(out, p)
	}
	if c.provider != nil {
		out = append(out, c.provider)
	}
	return out
}

// newVectorStore returns the configured backend, not yet ready.
func newVectorStore(s config.Settings, dims int, log *slog.Logger) (rag.VectorStore, error) {
	switch s.Vector.Backend {
	case "qdrant":
		q := s.Vector.Qdrant
		log.Info("vector store: qdrant",
			slog.String("host", q.Host),
			slog.Int("port", q.Port),
			slog.String("collection", s.Collection),
		)
		qs, err := rag.NewQdrantStore(&rag.QdrantConfig{
			Host:       q.Host,
			Port:       q.Port,
			Collection: s.Collection,
			VectorSize: uint64(dims), //nolint:gosec // dimensions are validated positive
			APIKey:     q.APIKey,
			UseTLS:     q.TLS,
			Logger:     log,
		})
		if err != nil {
			return nil, err
		}
		return qs, nil

	case "sqlite":
		path := s.Vector.Path
		if path == "" {
			var err error
			if path, err = store.DefaultDBPath(); err != nil {
				return nil, err
			}
		}
		log.Info("vector store: sqlite", slog.String("path", path))
		ss, err := store.New(store.Config{Path: path, Dimension: dims, Logger: log})
		if err != nil {
			return nil, err
		}
		return ss, nil

	default:
		return nil, fmt.Errorf("%w: unknown vector backend %q", rag.ErrConfig, s.Vector.Backend)
	}
}

// newBlobStore returns the configured document store.
func newBlobStore(ctx context.Context, s config.Settings) (blob.Store, error) {
	switch s.Blob.Backend {
	case "gcs":
		gs, err := blob.NewGCSStore(ctx, blob.GCSConfig{Bucket: s.Blob.Bucket, Project: s.Blob.Project})
		if err != nil {
			return nil, err
		}
		return gs, nil
	case "local":
		ls, err := blob.NewLocalStore(s.Blob.Dir)
		if err != nil {
			return nil, err
		}
		return ls, nil
	default:
		return nil, fmt.Errorf("%w: unknown blob backend %q", rag.ErrConfig, s.Blob.Backend)
	}
}
