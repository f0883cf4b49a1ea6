package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
)

// Config selects and configures an embedding backend and its Provider.
type Config struct {
	// Provider is one of openai, azure, ollama, gemini (default: openai).
	Provider string `yaml:"provider" validate:"omitempty,oneof=openai azure ollama gemini"`
	// Model overrides the backend's default model (or Azure deployment).
	Model string `yaml:"model"`
	// APIKey authenticates against openai, azure, and gemini.
	APIKey string `yaml:"api_key"`
	// Endpoint overrides the API base URL (Ollama host, Azure resource URL).
	Endpoint string `yaml:"endpoint"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
	// Dimensions overrides the backend's default vector length.
	Dimensions int `yaml:"dimensions" validate:"gte=0"`
	// Timeout bounds each request (default: 120s).
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	// MaxRetries is the transient-failure retry budget (default: 3).
	MaxRetries int `yaml:"max_retries" validate:"gte=0"`
	// RequestsPerSecond paces requests client-side (0 = unlimited).
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// DefaultDimensions returns the default vector length for a backend name.
func DefaultDimensions(backend string) int {
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// ResolvedDimensions returns cfg.Dimensions, or the backend default when unset.
func (cfg Config) ResolvedDimensions() int {
	if cfg.Dimensions > 0 {
		return cfg.Dimensions
	}
	return DefaultDimensions(cfg.backend())
}

func (cfg Config) backend() string {
	if cfg.Provider == "" {
		return "openai"
	}
	return strings.ToLower(cfg.Provider)
}

// ConfigFromEnv reads the EMBEDDING_* variables. Credentials fall back to
// the backend's conventional variables (OPENAI_API_KEY, AZURE_OPENAI_*,
// GEMINI_API_KEY, OLLAMA_HOST).
//
//  1. EMBEDDING_PROVIDER: openai | azure | ollama | gemini (default: openai)
//  2. EMBEDDING_MODEL: overrides the default model for the backend
//  3. EMBEDDING_API_KEY: overrides the inherited API key
//  4. EMBEDDING_ENDPOINT: overrides the inherited endpoint
//  5. EMBEDDING_DIMENSIONS: overrides the default dimensions
//  6. EMBEDDING_TIMEOUT, EMBEDDING_MAX_RETRIES, EMBEDDING_RPS: Provider tuning
func ConfigFromEnv() Config {
	cfg := Config{
		Provider:          getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
		Model:             os.Getenv("EMBEDDING_MODEL"),
		APIKey:            os.Getenv("EMBEDDING_API_KEY"),
		Endpoint:          os.Getenv("EMBEDDING_ENDPOINT"),
		APIVersion:        getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		Dimensions:        getEnvInt("EMBEDDING_DIMENSIONS", 0),
		MaxRetries:        getEnvInt("EMBEDDING_MAX_RETRIES", 0),
		RequestsPerSecond: getEnvFloat("EMBEDDING_RPS", 0),
	}
	if d, err := time.ParseDuration(os.Getenv("EMBEDDING_TIMEOUT")); err == nil {
		cfg.Timeout = d
	}

	switch cfg.backend() {
	case "openai":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
	case "azure":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("AZURE_OPENAI_API_KEY"))
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, os.Getenv("AZURE_OPENAI_ENDPOINT"))
	case "gemini":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
	case "ollama":
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, os.Getenv("OLLAMA_HOST"))
	}
	return cfg
}

// NewBackend constructs the raw backend selected by cfg.
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.backend() {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  firstNonEmpty(cfg.Endpoint, "http://localhost:11434"),
			Model: firstNonEmpty(cfg.Model, defaultOllamaModel),
		}), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY", rag.ErrConfig)
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    firstNonEmpty(cfg.Endpoint, "https://api.openai.com/v1"),
			APIKey:     cfg.APIKey,
			Model:      firstNonEmpty(cfg.Model, defaultOpenAIModel),
			Dimensions: cfg.Dimensions,
		}), nil

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY", rag.ErrConfig)
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("%w: embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT", rag.ErrConfig)
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimSuffix(cfg.Endpoint, "/") + "/openai",
			APIKey:     cfg.APIKey,
			Model:      firstNonEmpty(cfg.Model, defaultOpenAIModel),
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: firstNonEmpty(cfg.APIVersion, "2025-04-01-preview"),
		}), nil

	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: embedder: gemini requires GEMINI_API_KEY or EMBEDDING_API_KEY", rag.ErrConfig)
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      firstNonEmpty(cfg.Model, defaultGeminiModel),
			Dimensions: cfg.Dimensions,
			BaseURL:    cfg.Endpoint,
		})

	default:
		return nil, fmt.Errorf("%w: embedder: unknown backend %q (valid: openai, azure, ollama, gemini)", rag.ErrConfig, cfg.Provider)
	}
}

// New constructs the backend selected by cfg wrapped in a Provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewProvider(backend, ProviderOptions{
		Dimensions:        cfg.ResolvedDimensions(),
		AttemptTimeout:    cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
}

// NewFromEnv is New(ctx, ConfigFromEnv()).
func NewFromEnv(ctx context.Context) (*Provider, error) {
	return New(ctx, ConfigFromEnv())
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat is getEnvInt for floating-point values.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
