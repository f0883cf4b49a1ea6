package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/agrofinder-go/internal/blob"
	"github.com/54b3r/agrofinder-go/internal/ingestion"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Uploads
	// ingest synchronously, so it must cover a full embedding run.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Environment is reported by /api/health and /api/stats.
	Environment string
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxUploadBytes caps the size of POST /api/upload bodies (default: 50 MiB).
	MaxUploadBytes int64
	// StaticDir serves a built frontend at / when set and present on disk.
	StaticDir string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// searcher is the retrieval surface used by the search and stats handlers.
// *rag.Retriever satisfies it; tests inject a fake.
type searcher interface {
	Search(ctx context.Context, q rag.Query) ([]rag.SearchResult, error)
	IndexStats(ctx context.Context) (rag.Stats, error)
}

// ingester is the ingestion surface used by the ingest and upload handlers.
// *ingestion.Pipeline satisfies it.
type ingester interface {
	Ingest(ctx context.Context, req ingestion.Request) (ingestion.Result, error)
}

// Deps are the services the HTTP handlers delegate to.
type Deps struct {
	// Retriever answers searches and stats queries. Required.
	Retriever searcher
	// Pipeline ingests documents. Required.
	Pipeline ingester
	// Blobs stores uploads and serves documents. Required.
	Blobs blob.Store
}

// Server is the HTTP server exposing search and ingestion.
type Server struct {
	// search answers /api/search and /api/stats.
	search searcher
	// ingest handles /api/ingest and /api/upload.
	ingest ingester
	// blobs stores uploads and serves /api/document.
	blobs blob.Store
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
	// validate checks request bodies against their struct tags.
	validate *validator.Validate
	// now stamps uploads and health responses. Replaced in tests.
	now func() time.Time
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the natural-language query.
	Query string `json:"query" validate:"required,max=2000"`
	// Category restricts results to one category.
	Category string `json:"category,omitempty"`
	// TopK is the number of results (1..50, default 10).
	TopK *int `json:"top_k,omitempty" validate:"omitempty,min=1,max=50"`
	// DateFrom is an RFC 3339 timestamp or YYYY-MM-DD date.
	DateFrom string `json:"date_from,omitempty"`
	// DateTo is an RFC 3339 timestamp or YYYY-MM-DD date. A bare date
	// includes the whole day.
	DateTo string `json:"date_to,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	Query            string             `json:"query"`
	Results          []rag.SearchResult `json:"results"`
	TotalResults     int                `json:"total_results"`
	ProcessingTimeMs float64            `json:"processing_time_ms"`
}

// ingestRequest is the JSON body for POST /api/ingest. gcs_path is accepted
// as an alias of source_path.
type ingestRequest struct {
	SourcePath string         `json:"source_path" validate:"required_without=GCSPath"`
	GCSPath    string         `json:"gcs_path,omitempty"`
	Category   string         `json:"category" validate:"required"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	NumChunks  int    `json:"num_chunks"`
	Message    string `json:"message"`
}

// uploadResponse is the JSON response for POST /api/upload.
type uploadResponse struct {
	Success    bool   `json:"success"`
	Path       string `json:"gcs_path"`
	URL        string `json:"url"`
	Filename   string `json:"filename"`
	FileSize   int64  `json:"file_size"`
	DocumentID string `json:"document_id"`
	NumChunks  int    `json:"num_chunks"`
	Message    string `json:"message"`
}

// healthResponse is the JSON response for GET /api/health.
type healthResponse struct {
	Status            string    `json:"status"`
	Environment       string    `json:"environment"`
	VectorStoreStatus string    `json:"vector_store_status"`
	Version           string    `json:"version"`
	Timestamp         time.Time `json:"timestamp"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	Success           bool      `json:"success"`
	TotalDocuments    int64     `json:"total_documents"`
	VectorStoreStatus string    `json:"vector_store_status"`
	Backend           string    `json:"backend,omitempty"`
	Collection        string    `json:"collection,omitempty"`
	Dimension         int       `json:"dimension,omitempty"`
	Environment       string    `json:"environment"`
	Error             string    `json:"error,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// errorResponse is the JSON body of every handler error.
type errorResponse struct {
	Detail string `json:"detail"`
}
