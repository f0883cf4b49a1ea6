package rag

import "errors"

// Error taxonomy. Errors returned by the pipelines wrap one of these kinds and
// the originating cause, e.g. fmt.Errorf("%w: upsert: %w", ErrStore, err), so
// both remain reachable with errors.Is / errors.As.
var (
	// ErrExtraction means the source bytes are not a readable PDF.
	ErrExtraction = errors.New("extraction error")

	// ErrEmptyContent means no page of the document had extractable text.
	ErrEmptyContent = errors.New("empty content")

	// ErrEmbedding covers provider failures, timeouts, and count mismatches.
	ErrEmbedding = errors.New("embedding error")

	// ErrStore covers vector store connectivity, upsert, and query failures.
	ErrStore = errors.New("store error")

	// ErrNotFound means the source blob does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConfig marks fatal configuration errors.
	ErrConfig = errors.New("configuration error")

	// ErrDimensionMismatch means a vector length differs from the configured
	// embedding dimension. It is a configuration error, never retried.
	ErrDimensionMismatch error = &kindError{msg: "embedding dimension mismatch", kind: ErrConfig}

	// ErrInvalidCategory means a category outside the closed enumeration.
	ErrInvalidCategory = errors.New("invalid category")
)

// kindError is a sentinel that also matches a broader kind.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

// Is makes errors.Is(ErrDimensionMismatch, ErrConfig) true.
func (e *kindError) Is(target error) bool { return target == e.kind }
