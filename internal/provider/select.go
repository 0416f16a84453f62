package provider

import (
	"github.com/guardly/dialograils/internal/config"
)

// FromConfig builds the configured provider, wrapped in a circuit
// breaker when enabled. Unknown provider identifiers fall back to the
// Groq endpoint, which speaks the OpenAI wire format.
func FromConfig(cfg config.EngineConfig) Provider {
	var p Provider
	switch cfg.Provider {
	case "ollama":
		p = NewOllamaProvider(cfg.BaseURL)
	case "openai":
		p = NewOpenAIProvider(cfg.BaseURL, cfg.APIKey)
	default:
		if cfg.BaseURL != "" {
			p = newCompatible(cfg.Provider, cfg.BaseURL, cfg.APIKey)
		} else {
			p = NewGroqProvider(cfg.APIKey)
		}
	}

	return WithCircuitBreaker(p, CircuitBreakerConfig{
		Enabled:          cfg.BreakerEnabled,
		FailureThreshold: cfg.BreakerThreshold,
	})
}

// OptionsFromConfig builds the per-call generation options.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		Model:       cfg.Model,
		MaxTokens:   int64(cfg.MaxTokens),
		Temperature: cfg.Temperature,
	}
}
