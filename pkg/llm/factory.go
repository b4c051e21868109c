package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/viacanvas/intelligence/pkg/config"
)

// NewClient builds the configured chat-completion client.
func NewClient(ctx context.Context, cfg *config.LLMConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case config.ProviderTypeOpenAI:
		return NewOpenAIClient(cfg, logger)
	case config.ProviderTypeBedrock:
		return NewBedrockClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// NewEmbedder builds the configured embedding client. An OpenAI provider
// without an API key falls back to the deterministic hashing embedder so
// the system can run offline; configured providers are wrapped so a call
// failure degrades to the hashing fallback instead of failing the caller.
func NewEmbedder(ctx context.Context, cfg *config.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderTypeOpenAI:
		if cfg.APIKey == "" {
			logger.Warn("no embedding api key configured, using hashing embedder",
				"dimension", cfg.Dimension)
			return NewHashEmbedder(cfg.Dimension), nil
		}
		e, err := NewOpenAIEmbedder(cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewResilientEmbedder(e, logger), nil
	case config.ProviderTypeBedrock:
		e, err := NewBedrockEmbedder(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewResilientEmbedder(e, logger), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
