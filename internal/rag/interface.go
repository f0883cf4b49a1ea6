// Package rag defines the core retrieval types: the vector store contract
// shared by the embedded and remote backends, the embedding contract, the
// error taxonomy, and the retrieval pipeline that turns a natural-language
// query into ranked search results.
// Concrete backends (Qdrant here, SQLite in internal/store) satisfy these
// interfaces so the pipelines never depend on a specific backend.
package rag

import (
	"context"
	"time"
)

// ScoreKind tags the native meaning of a Match score. Backends report the
// score they compute; only the Retriever converts it to a similarity.
type ScoreKind int

const (
	// ScoreDistance means lower is more relevant (cosine distance, 0..2).
	ScoreDistance ScoreKind = iota
	// ScoreSimilarity means higher is more relevant (cosine similarity).
	ScoreSimilarity
)

// String returns the lower-case name of the score kind.
func (k ScoreKind) String() string {
	switch k {
	case ScoreDistance:
		return "distance"
	case ScoreSimilarity:
		return "similarity"
	default:
		return "unknown"
	}
}

// Metadata field names shared by the ingestion and retrieval pipelines.
const (
	FieldDocumentID = "document_id"
	FieldFilename   = "filename"
	FieldCategory   = "category"
	FieldPageNumber = "page_number"
	FieldChunkIndex = "chunk_index"
	FieldSourcePath = "source_path"
	FieldUploadDate = "upload_date"
	// FieldText duplicates the chunk text on backends that do not keep
	// source text separately.
	FieldText = "text"
)

// Entry is a single chunk staged for upsert.
type Entry struct {
	// ID is the deterministic chunk identifier ({doc}_page{N}_chunk{I}).
	ID string

	// Vector is the chunk embedding. Its length must equal the store dimension.
	Vector []float32

	// Text is the chunk content.
	Text string

	// Metadata holds the per-chunk fields (see the Field* constants) plus any
	// caller-supplied extras.
	Metadata map[string]any
}

// Match is a backend-neutral query hit.
type Match struct {
	// ID is the chunk identifier as it was upserted.
	ID string

	// Text is the stored chunk text. Empty on backends that only keep it in
	// Metadata[FieldText].
	Text string

	// Metadata is the stored metadata, nil when metadata was not requested.
	Metadata map[string]any

	// Score is the raw backend score, interpreted according to Kind.
	Score float32

	// Kind says whether Score is a distance or a similarity.
	Kind ScoreKind
}

// RangeCondition bounds a datetime metadata field. Nil bounds are open.
type RangeCondition struct {
	// Field is the metadata key holding an RFC 3339 timestamp.
	Field string
	// From is the inclusive lower bound.
	From *time.Time
	// To is the inclusive upper bound.
	To *time.Time
}

// Filter restricts which vectors a query considers.
type Filter struct {
	// Equals maps metadata keys to the exact value they must hold.
	Equals map[string]string

	// Ranges are only honoured by backends whose Capabilities report
	// RangeFilters. Other backends ignore them.
	Ranges []RangeCondition
}

// IsEmpty reports whether the filter has no conditions.
func (f Filter) IsEmpty() bool {
	return len(f.Equals) == 0 && len(f.Ranges) == 0
}

// Capabilities describes the optional features of a backend.
type Capabilities struct {
	// RangeFilters is true when the backend evaluates Filter.Ranges natively.
	RangeFilters bool
}

// Stats summarises the contents of a vector store.
type Stats struct {
	// Backend names the implementation ("sqlite", "qdrant").
	Backend string `json:"backend"`
	// Collection is the collection or database the store writes to.
	Collection string `json:"collection"`
	// Count is the number of stored chunks.
	Count int64 `json:"count"`
	// Dimension is the embedding dimension of the store.
	Dimension int `json:"dimension"`
}

// VectorStore is the capability set implemented by every backend.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// EnsureReady lazily opens the backend handle and creates the index or
	// schema if absent. It is idempotent and must be called once before the
	// first real use.
	EnsureReady(ctx context.Context) error

	// Upsert inserts or overwrites entries by ID.
	Upsert(ctx context.Context, entries []Entry) error

	// Query returns up to topK nearest neighbours of vector, best first.
	Query(ctx context.Context, vector []float32, topK int, filter Filter, includeMetadata bool) ([]Match, error)

	// Delete removes entries by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Stats reports the number of stored entries and the dimension.
	Stats(ctx context.Context) (Stats, error)

	// Capabilities reports the optional features of this backend.
	Capabilities() Capabilities

	// Close releases the backend handle.
	Close() error
}

// Embedder converts text into fixed-length dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts in one call. The result is positionally
	// aligned with texts and has exactly len(texts) vectors.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length produced by this embedder.
	Dimensions() int
}
