// Package config provides layered configuration for agrofinder.
// Configuration is loaded with a layered precedence: defaults → .env → YAML file → env vars.
// Environment variables always win; the YAML file and .env only fill gaps.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. AGRO_CONFIG environment variable
//  3. ~/.agrofinder/config.yaml
//  4. ./agrofinder.yaml
//
// If no file is found the system runs entirely from env vars. [FromEnv] then
// resolves the environment into a validated [Settings] value.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// File is the YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type File struct {
	// Environment names the deployment (development, staging, production).
	Environment string `yaml:"environment"`

	// Collection is the vector collection name.
	Collection string `yaml:"collection"`

	// Search configures chunking and retrieval defaults.
	Search SearchFile `yaml:"search"`

	// Vector configures the vector store backend.
	Vector VectorFile `yaml:"vector"`

	// Blob configures the document blob store.
	Blob BlobFile `yaml:"blob"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingFile `yaml:"embedding"`

	// Server configures the HTTP server.
	Server ServerFile `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingFile `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingFile `yaml:"tracing"`
}

// SearchFile holds chunking and retrieval settings.
type SearchFile struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

// VectorFile holds vector store settings.
type VectorFile struct {
	// Backend is sqlite or qdrant.
	Backend string `yaml:"backend"`
	// Path is the SQLite database file.
	Path   string     `yaml:"path"`
	Qdrant QdrantFile `yaml:"qdrant"`
}

// QdrantFile holds Qdrant connection settings.
type QdrantFile struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// BlobFile holds blob store settings.
type BlobFile struct {
	// Backend is gcs or local.
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
	Project string `yaml:"project"`
	// Dir is the root directory of the local backend.
	Dir string `yaml:"dir"`
}

// EmbeddingFile holds embedding provider settings.
type EmbeddingFile struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey            string  `yaml:"api_key"`
	Endpoint          string  `yaml:"endpoint"`
	Timeout           string  `yaml:"timeout"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ServerFile holds HTTP server settings.
type ServerFile struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var AGRO_API_KEY.
	APIKey      string  `yaml:"api_key"`
	RateLimit   float64 `yaml:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst"`
	MaxUploadMB int     `yaml:"max_upload_mb"`
	StaticDir   string  `yaml:"static_dir"`
}

// LoggingFile holds structured logging settings.
type LoggingFile struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingFile holds Langfuse tracing settings.
type TracingFile struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*File) string
}{
	{EnvEnvironment, func(c *File) string { return c.Environment }},
	{EnvCollection, func(c *File) string { return c.Collection }},
	{EnvChunkSize, func(c *File) string { return intStr(c.Search.ChunkSize) }},
	{EnvChunkOverlap, func(c *File) string { return intStr(c.Search.ChunkOverlap) }},
	{EnvTopK, func(c *File) string { return intStr(c.Search.TopK) }},
	{EnvVectorBackend, func(c *File) string { return c.Vector.Backend }},
	{EnvVectorPath, func(c *File) string { return c.Vector.Path }},
	{EnvQdrantHost, func(c *File) string { return c.Vector.Qdrant.Host }},
	{EnvQdrantPort, func(c *File) string { return intStr(c.Vector.Qdrant.Port) }},
	{EnvQdrantAPIKey, func(c *File) string { return c.Vector.Qdrant.APIKey }},
	{EnvQdrantTLS, func(c *File) string { return boolStr(c.Vector.Qdrant.TLS) }},
	{EnvBlobBackend, func(c *File) string { return c.Blob.Backend }},
	{EnvGCSBucket, func(c *File) string { return c.Blob.Bucket }},
	{EnvGCSProject, func(c *File) string { return c.Blob.Project }},
	{EnvBlobDir, func(c *File) string { return c.Blob.Dir }},
	{"EMBEDDING_PROVIDER", func(c *File) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *File) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *File) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *File) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *File) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_TIMEOUT", func(c *File) string { return c.Embedding.Timeout }},
	{"EMBEDDING_MAX_RETRIES", func(c *File) string { return intStr(c.Embedding.MaxRetries) }},
	{"EMBEDDING_RPS", func(c *File) string { return floatStr(c.Embedding.RequestsPerSecond) }},
	{EnvHost, func(c *File) string { return c.Server.Host }},
	{EnvPort, func(c *File) string { return intStr(c.Server.Port) }},
	{EnvAPIKey, func(c *File) string { return c.Server.APIKey }},
	{EnvRateLimit, func(c *File) string { return floatStr(c.Server.RateLimit) }},
	{EnvRateBurst, func(c *File) string { return intStr(c.Server.RateBurst) }},
	{EnvMaxUploadMB, func(c *File) string { return intStr(c.Server.MaxUploadMB) }},
	{EnvStaticDir, func(c *File) string { return c.Server.StaticDir }},
	{"LOG_LEVEL", func(c *File) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *File) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *File) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *File) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *File) string { return c.Tracing.Host }},
}

// Load reads ./.env (when present) and a YAML config file, applying their
// values as environment variables. Existing env vars are never overwritten
// (env always wins). Returns the YAML path that was loaded, or an empty
// string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := loadDotEnv(".env"); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// loadDotEnv applies a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: failed to load %s: %w", path, err)
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv(EnvConfig); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".agrofinder", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("agrofinder.yaml"); err == nil {
		return "agrofinder.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// floatStr converts a float64 to its shortest string form, "" for zero.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
