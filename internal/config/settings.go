package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/54b3r/agrofinder-go/internal/embedder"
	"github.com/54b3r/agrofinder-go/internal/rag"
)

// Environment variable names read by FromEnv. Embedding variables are
// documented on embedder.ConfigFromEnv.
const (
	EnvConfig        = "AGRO_CONFIG"
	EnvEnvironment   = "ENVIRONMENT"
	EnvCollection    = "COLLECTION_NAME"
	EnvChunkSize     = "CHUNK_SIZE"
	EnvChunkOverlap  = "CHUNK_OVERLAP"
	EnvTopK          = "TOP_K_RESULTS"
	EnvVectorBackend = "VECTOR_BACKEND"
	EnvVectorPath    = "VECTOR_DB_PATH"
	EnvQdrantHost    = "QDRANT_HOST"
	EnvQdrantPort    = "QDRANT_PORT"
	EnvQdrantAPIKey  = "QDRANT_API_KEY"
	EnvQdrantTLS     = "QDRANT_TLS"
	EnvBlobBackend   = "BLOB_BACKEND"
	EnvGCSBucket     = "GCS_BUCKET_NAME"
	EnvGCSProject    = "GCS_PROJECT_ID"
	EnvBlobDir       = "BLOB_DIR"
	EnvHost          = "AGRO_HOST"
	EnvPort          = "AGRO_PORT"
	EnvAPIKey        = "AGRO_API_KEY"
	EnvRateLimit     = "AGRO_RATE_LIMIT"
	EnvRateBurst     = "AGRO_RATE_BURST"
	EnvMaxUploadMB   = "AGRO_MAX_UPLOAD_MB"
	EnvStaticDir     = "AGRO_STATIC_DIR"
)

// Defaults applied by FromEnv.
const (
	DefaultEnvironment  = "development"
	DefaultCollection   = "agro_docs"
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
	DefaultTopK         = 10
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 8000
	DefaultQdrantHost   = "localhost"
	DefaultQdrantPort   = 6334
	DefaultMaxUploadMB  = 50
	DefaultBlobDir      = "data"
)

// Settings is the resolved, validated runtime configuration.
type Settings struct {
	Environment  string `validate:"required"`
	Collection   string `validate:"required"`
	ChunkSize    int    `validate:"gt=0"`
	ChunkOverlap int    `validate:"gte=0,ltfield=ChunkSize"`
	TopK         int    `validate:"gt=0,lte=50"`

	Vector    VectorSettings
	Blob      BlobSettings
	Server    ServerSettings
	Embedding embedder.Config
	Logging   LoggingSettings
	Tracing   TracingSettings
}

// VectorSettings selects the vector store.
type VectorSettings struct {
	// Backend is sqlite (embedded) or qdrant (managed).
	Backend string `validate:"oneof=sqlite qdrant"`
	// Path is the SQLite file; empty means ~/.agrofinder/vectors.db.
	Path   string
	Qdrant QdrantSettings
}

// QdrantSettings holds the Qdrant connection.
type QdrantSettings struct {
	Host   string `validate:"required"`
	Port   int    `validate:"gt=0,lte=65535"`
	APIKey string
	TLS    bool
}

// BlobSettings selects the document blob store.
type BlobSettings struct {
	Backend string `validate:"oneof=gcs local"`
	Bucket  string `validate:"required_if=Backend gcs"`
	Project string
	Dir     string `validate:"required_if=Backend local"`
}

// ServerSettings configures `agrofinder serve`.
type ServerSettings struct {
	Host        string `validate:"required"`
	Port        int    `validate:"gt=0,lte=65535"`
	APIKey      string
	RateLimit   float64 `validate:"gte=0"`
	RateBurst   int     `validate:"gte=0"`
	MaxUploadMB int     `validate:"gt=0"`
	StaticDir   string
}

// MaxUploadBytes converts MaxUploadMB to bytes.
func (s ServerSettings) MaxUploadBytes() int64 { return int64(s.MaxUploadMB) << 20 }

// LoggingSettings mirrors LOG_LEVEL and LOG_FORMAT.
type LoggingSettings struct {
	Level  string `validate:"omitempty,oneof=debug info warn warning error"`
	Format string `validate:"omitempty,oneof=json text"`
}

// TracingSettings holds the Langfuse credentials.
type TracingSettings struct {
	PublicKey string
	SecretKey string
	Host      string
}

// Enabled reports whether both Langfuse keys are present.
func (t TracingSettings) Enabled() bool { return t.PublicKey != "" && t.SecretKey != "" }

// FromEnv resolves Settings from the process environment and validates them.
// Call Load first to layer .env and YAML values underneath.
func FromEnv() (Settings, error) {
	var errs []error
	num := func(key string, fallback int) int {
		v, err := envInt(key, fallback)
		errs = append(errs, err)
		return v
	}
	dec := func(key string, fallback float64) float64 {
		v, err := envFloat(key, fallback)
		errs = append(errs, err)
		return v
	}

	s := Settings{
		Environment:  envOr(EnvEnvironment, DefaultEnvironment),
		Collection:   envOr(EnvCollection, DefaultCollection),
		ChunkSize:    num(EnvChunkSize, DefaultChunkSize),
		ChunkOverlap: num(EnvChunkOverlap, DefaultChunkOverlap),
		TopK:         num(EnvTopK, DefaultTopK),
		Vector: VectorSettings{
			Backend: strings.ToLower(envOr(EnvVectorBackend, "sqlite")),
			Path:    os.Getenv(EnvVectorPath),
			Qdrant: QdrantSettings{
				Host:   envOr(EnvQdrantHost, DefaultQdrantHost),
				Port:   num(EnvQdrantPort, DefaultQdrantPort),
				APIKey: os.Getenv(EnvQdrantAPIKey),
				TLS:    envBool(EnvQdrantTLS),
			},
		},
		Blob: BlobSettings{
			Bucket:  os.Getenv(EnvGCSBucket),
			Project: os.Getenv(EnvGCSProject),
			Dir:     envOr(EnvBlobDir, DefaultBlobDir),
		},
		Server: ServerSettings{
			Host:        envOr(EnvHost, DefaultHost),
			Port:        num(EnvPort, DefaultPort),
			APIKey:      os.Getenv(EnvAPIKey),
			RateLimit:   dec(EnvRateLimit, 0),
			RateBurst:   num(EnvRateBurst, 0),
			MaxUploadMB: num(EnvMaxUploadMB, DefaultMaxUploadMB),
			StaticDir:   os.Getenv(EnvStaticDir),
		},
		Embedding: embedder.ConfigFromEnv(),
		Logging: LoggingSettings{
			Level:  strings.ToLower(os.Getenv("LOG_LEVEL")),
			Format: strings.ToLower(os.Getenv("LOG_FORMAT")),
		},
		Tracing: TracingSettings{
			PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
			SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
			Host:      os.Getenv("LANGFUSE_HOST"),
		},
	}

	s.Embedding.Provider = strings.ToLower(s.Embedding.Provider)

	// A bucket without an explicit backend means GCS, as deployed.
	s.Blob.Backend = strings.ToLower(os.Getenv(EnvBlobBackend))
	if s.Blob.Backend == "" {
		s.Blob.Backend = "local"
		if s.Blob.Bucket != "" {
			s.Blob.Backend = "gcs"
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", rag.ErrConfig, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns one error listing every
// violation, wrapped in rag.ErrConfig.
func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: config: %w", rag.ErrConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Settings."), fe.Tag()))
	}
	return fmt.Errorf("%w: config: %s", rag.ErrConfig, strings.Join(msgs, "; "))
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not an integer", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a number", key, v)
	}
	return f, nil
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}
