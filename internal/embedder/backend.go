// Package embedder converts text into dense vectors. Raw backends (OpenAI,
// Azure OpenAI, Ollama, Gemini) only speak their wire protocol; [Provider]
// wraps one of them and adds the guarantees the pipelines rely on: per-attempt
// timeouts, bounded retries on transient failures, client-side pacing, and
// strict count and dimension checks.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Backend is a raw embedding API client. Embed must return one vector per
// input text, in input order, or an error.
type Backend interface {
	// Embed converts texts into vectors in a single request.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the backend in logs and traces (e.g. "openai").
	Name() string

	// Model is the embedding model the backend requests.
	Model() string
}

// HTTPStatusError is returned by backends for non-2xx responses.
type HTTPStatusError struct {
	// Backend is the backend name.
	Backend string
	// StatusCode is the HTTP status.
	StatusCode int
	// Message is the error message from the response body, if any.
	Message string
}

// Error implements error.
func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s embedder: HTTP %d", e.Backend, e.StatusCode)
	}
	return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Backend, e.StatusCode, e.Message)
}

// Temporary reports whether the status is worth retrying: rate limiting and
// server-side failures.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// isTransient classifies an attempt error. parent is the caller's context;
// when it is done nothing is transient.
func isTransient(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	// The per-attempt deadline fired while the caller was still waiting.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
