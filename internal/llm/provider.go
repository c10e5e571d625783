package llm

import (
	"context"
	"fmt"

	"meal-plan-service/internal/config"
)

// NewTextGenerator builds the configured provider client wrapped in a circuit breaker.
// Close the result to release provider resources.
func NewTextGenerator(ctx context.Context, cfg *config.Config) (*BreakerGenerator, error) {
	var gen TextGenerator
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		gen = NewOpenAIClient(cfg)
	case config.ProviderGroq:
		gen = NewGroqClient(cfg)
	case config.ProviderGemini:
		gemini, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		gen = gemini
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
	return NewBreakerGenerator(gen, cfg.LLMProvider, cfg.LLMBreakerFailures, cfg.LLMBreakerCooldown), nil
}
