package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

// managedKeys lists every variable Load and FromEnv touch.
var managedKeys = []string{
	EnvConfig, EnvEnvironment, EnvCollection, EnvChunkSize, EnvChunkOverlap, EnvTopK,
	EnvVectorBackend, EnvVectorPath, EnvQdrantHost, EnvQdrantPort, EnvQdrantAPIKey, EnvQdrantTLS,
	EnvBlobBackend, EnvGCSBucket, EnvGCSProject, EnvBlobDir,
	EnvHost, EnvPort, EnvAPIKey, EnvRateLimit, EnvRateBurst, EnvMaxUploadMB, EnvStaticDir,
	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS", "EMBEDDING_API_KEY",
	"EMBEDDING_ENDPOINT", "EMBEDDING_TIMEOUT", "EMBEDDING_MAX_RETRIES", "EMBEDDING_RPS",
	"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "GEMINI_API_KEY",
	"GOOGLE_API_KEY", "OLLAMA_HOST",
	"LOG_LEVEL", "LOG_FORMAT", "LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY", "LANGFUSE_HOST",
}

// clearEnv unsets every managed key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range managedKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	clearEnv(t)

	cfgPath := writeFile(t, "config.yaml", `
environment: production
collection: agro_prod
search:
  chunk_size: 800
  chunk_overlap: 80
vector:
  backend: qdrant
  qdrant:
    host: qdrant.internal
    port: 6334
    tls: true
blob:
  bucket: agro-docs
  project: agro-123
embedding:
  provider: ollama
  model: nomic-embed-text
  requests_per_second: 2.5
server:
  port: 9000
logging:
  level: debug
  format: text
`)

	loaded, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		EnvEnvironment:       "production",
		EnvCollection:        "agro_prod",
		EnvChunkSize:         "800",
		EnvChunkOverlap:      "80",
		EnvVectorBackend:     "qdrant",
		EnvQdrantHost:        "qdrant.internal",
		EnvQdrantPort:        "6334",
		EnvQdrantTLS:         "true",
		EnvGCSBucket:         "agro-docs",
		EnvGCSProject:        "agro-123",
		"EMBEDDING_PROVIDER": "ollama",
		"EMBEDDING_MODEL":    "nomic-embed-text",
		"EMBEDDING_RPS":      "2.5",
		EnvPort:              "9000",
		"LOG_LEVEL":          "debug",
		"LOG_FORMAT":         "text",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if got := os.Getenv(EnvTopK); got != "" {
		t.Errorf("%s: zero YAML value should not be applied, got %q", EnvTopK, got)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	cfgPath := writeFile(t, "config.yaml", "collection: from_yaml\n")

	t.Setenv(EnvCollection, "from_env")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv(EnvCollection); got != "from_env" {
		t.Errorf("%s: expected env override %q, got %q", EnvCollection, "from_env", got)
	}
}

func TestLoad_ConfigFromEnvVar(t *testing.T) {
	clearEnv(t)
	cfgPath := writeFile(t, "agro.yaml", "environment: staging\n")
	t.Setenv(EnvConfig, cfgPath)

	loaded, err := Load("", slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}
	if got := os.Getenv(EnvEnvironment); got != "staging" {
		t.Errorf("%s: got %q", EnvEnvironment, got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", "{{invalid yaml")

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const fresh, preset = "AGRO_TEST_DOTENV_FRESH", "AGRO_TEST_DOTENV_PRESET"
	t.Setenv(fresh, "")
	os.Unsetenv(fresh)
	t.Setenv(preset, "process")

	p := writeFile(t, ".env", fresh+"=from-file\n"+preset+"=from-file\n")
	if err := loadDotEnv(p); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv(fresh); got != "from-file" {
		t.Errorf("%s: got %q, want from-file", fresh, got)
	}
	if got := os.Getenv(preset); got != "process" {
		t.Errorf("%s: process env must win, got %q", preset, got)
	}

	if err := loadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.Environment != DefaultEnvironment || s.Collection != DefaultCollection {
		t.Errorf("environment/collection = %q/%q", s.Environment, s.Collection)
	}
	if s.ChunkSize != 500 || s.ChunkOverlap != 50 || s.TopK != 10 {
		t.Errorf("chunk %d/%d top_k %d", s.ChunkSize, s.ChunkOverlap, s.TopK)
	}
	if s.Vector.Backend != "sqlite" {
		t.Errorf("vector backend = %q, want sqlite", s.Vector.Backend)
	}
	if s.Blob.Backend != "local" || s.Blob.Dir != DefaultBlobDir {
		t.Errorf("blob = %+v", s.Blob)
	}
	if s.Server.Host != DefaultHost || s.Server.Port != DefaultPort {
		t.Errorf("server = %s:%d", s.Server.Host, s.Server.Port)
	}
	if s.Server.MaxUploadBytes() != 50<<20 {
		t.Errorf("max upload = %d", s.Server.MaxUploadBytes())
	}
	if s.Embedding.Provider != "openai" {
		t.Errorf("embedding provider = %q", s.Embedding.Provider)
	}
	if s.Tracing.Enabled() {
		t.Error("tracing should be disabled without keys")
	}
}

func TestFromEnv_BucketSelectsGCS(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvGCSBucket, "agro-docs")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.Blob.Backend != "gcs" || s.Blob.Bucket != "agro-docs" {
		t.Errorf("blob = %+v", s.Blob)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVectorBackend, "QDRANT")
	t.Setenv(EnvQdrantTLS, "true")
	t.Setenv(EnvTopK, "25")
	t.Setenv(EnvRateLimit, "4.5")
	t.Setenv("EMBEDDING_PROVIDER", "Gemini")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk")
	t.Setenv("LANGFUSE_SECRET_KEY", "sk")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.Vector.Backend != "qdrant" || !s.Vector.Qdrant.TLS {
		t.Errorf("vector = %+v", s.Vector)
	}
	if s.TopK != 25 || s.Server.RateLimit != 4.5 {
		t.Errorf("top_k %d rate %v", s.TopK, s.Server.RateLimit)
	}
	if s.Embedding.Provider != "gemini" {
		t.Errorf("embedding provider = %q", s.Embedding.Provider)
	}
	if !s.Tracing.Enabled() {
		t.Error("tracing should be enabled")
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"not a number", map[string]string{EnvChunkSize: "big"}, EnvChunkSize},
		{"overlap not below size", map[string]string{EnvChunkSize: "50", EnvChunkOverlap: "50"}, "ChunkOverlap"},
		{"unknown vector backend", map[string]string{EnvVectorBackend: "chroma"}, "Vector.Backend"},
		{"gcs without bucket", map[string]string{EnvBlobBackend: "gcs"}, "Blob.Bucket"},
		{"top_k too large", map[string]string{EnvTopK: "51"}, "TopK"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, "Logging.Format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			if !errors.Is(err, rag.ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0, ""},
		{0.2, "0.2"},
		{2.5, "2.5"},
		{10, "10"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
