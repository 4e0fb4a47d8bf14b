package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// ProviderConfig selects and configures a client implementation.
type ProviderConfig struct {
	Provider string // "openai" or "anthropic"
	Endpoint string
	Model    string
	APIKey   string
}

// NewClient creates a Client for the configured provider.
func NewClient(cfg *ProviderConfig, logger *zap.Logger) (Client, error) {
	base := &Config{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}

	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(base, logger)
	case "anthropic":
		return NewAnthropicClient(base, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
