package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

// knownChatModelPrefixes contains name fragments that identify chat or
// completion models, which produce poor or no embeddings.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"gemini-1",
	"gemini-2",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check run at startup, before the first embed call.
// It fails on configurations that cannot work and warns when the model looks
// like a chat model or the configured dimensions differ from the backend's
// default model size.
func Validate(cfg Config, log *slog.Logger) error {
	switch cfg.backend() {
	case "openai", "gemini":
		if cfg.APIKey == "" {
			return fmt.Errorf("%w: embedder: %s requires an API key (EMBEDDING_API_KEY)", rag.ErrConfig, cfg.backend())
		}
	case "azure":
		if cfg.APIKey == "" || cfg.Endpoint == "" {
			return fmt.Errorf("%w: embedder: azure requires an API key and endpoint", rag.ErrConfig)
		}
	case "ollama":
	default:
		return fmt.Errorf("%w: embedder: unknown backend %q", rag.ErrConfig, cfg.Provider)
	}

	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. text-embedding-3-small, nomic-embed-text"),
		)
	}

	if cfg.Model == "" && cfg.Dimensions > 0 && cfg.Dimensions != DefaultDimensions(cfg.backend()) && cfg.backend() == "ollama" {
		log.Warn("embedder: EMBEDDING_DIMENSIONS differs from the default model size; ingestion will fail on mismatch",
			slog.Int("dimensions", cfg.Dimensions),
			slog.Int("default", DefaultDimensions(cfg.backend())),
		)
	}

	return nil
}
