// Package tracing wires Langfuse into eino's global callback chain so every
// embedding request made through embedder.Provider is traced.
package tracing

import (
	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// DefaultHost is used when Config.Host is empty.
const DefaultHost = "http://localhost:3000"

// Config holds the Langfuse project credentials.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
	// Release tags every trace with the binary version.
	Release string
}

// Setup builds the Langfuse callback handler when both keys are set. The
// returned flush function must be called before process exit so buffered
// traces are sent. When Langfuse is not configured ok is false and the other
// return values are nil.
func Setup(cfg Config) (handler callbacks.Handler, flush func(), ok bool) {
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, nil, false
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "agrofinder",
		Release:   cfg.Release,
	})
	return handler, flush, true
}

// Enable registers the handler globally. It returns a no-op flush when
// tracing is not configured, so callers can always defer the result.
func Enable(cfg Config) (flush func(), enabled bool) {
	handler, flush, ok := Setup(cfg)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}
