package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/config"
)

// newProviderClient creates a single backend client from a model config.
func newProviderClient(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q (supported: %s)",
			cfg.Provider, config.ProviderGemini)
	}
}

// NewRouterFromConfig builds the tier router from the routing configuration.
// Named model entries override the tier defaults; a missing entry falls back
// to a Gemini client for the tier's default model, sharing the router's API
// key environment fallback.
func NewRouterFromConfig(cfg config.LLMRouterConfig, apiKey string, logger *zap.Logger) (*LLMRouter, error) {
	fastCfg, ok := cfg.Models["fast"]
	if !ok {
		fastCfg = config.LLMModelConfig{Provider: config.ProviderGemini, Model: cfg.DefaultFastModel}
	}
	powerfulCfg, ok := cfg.Models["powerful"]
	if !ok {
		powerfulCfg = config.LLMModelConfig{Provider: config.ProviderGemini, Model: cfg.DefaultPowerfulModel}
	}
	if fastCfg.APIKey == "" {
		fastCfg.APIKey = apiKey
	}
	if powerfulCfg.APIKey == "" {
		powerfulCfg.APIKey = apiKey
	}

	fast, err := newProviderClient(fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building fast tier client: %w", err)
	}
	powerful, err := newProviderClient(powerfulCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building powerful tier client: %w", err)
	}

	return NewLLMRouter(logger, fast, powerful, cfg.RequestsPerMinute)
}
