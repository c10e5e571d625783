package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/metrics"
)

// BreakerGenerator guards a TextGenerator with a circuit breaker so that an
// unhealthy provider fails fast instead of holding requests for the full timeout.
type BreakerGenerator struct {
	next     TextGenerator
	provider string
	cb       *gobreaker.CircuitBreaker[ContentResponse]
}

// NewBreakerGenerator trips after `failures` consecutive errors and tries
// the provider again after `cooldown`.
func NewBreakerGenerator(next TextGenerator, provider string, failures uint32, cooldown time.Duration) *BreakerGenerator {
	name := "llm-" + provider
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Callers giving up is not a provider failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("LLM circuit breaker state changed")
			metrics.LLMBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}
	metrics.LLMBreakerState.WithLabelValues(name).Set(metrics.BreakerClosed)

	return &BreakerGenerator{
		next:     next,
		provider: provider,
		cb:       gobreaker.NewCircuitBreaker[ContentResponse](settings),
	}
}

// GenerateContent forwards to the wrapped generator unless the breaker is open.
func (b *BreakerGenerator) GenerateContent(ctx context.Context, messages ...Message) (ContentResponse, error) {
	resp, err := b.cb.Execute(func() (ContentResponse, error) {
		return b.next.GenerateContent(ctx, messages...)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.LLMRequestsTotal.WithLabelValues(b.provider, "rejected").Inc()
			return ContentResponse{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		metrics.LLMRequestsTotal.WithLabelValues(b.provider, "error").Inc()
		return ContentResponse{}, err
	}

	metrics.LLMRequestsTotal.WithLabelValues(b.provider, "success").Inc()
	metrics.LLMTokensTotal.WithLabelValues(b.provider, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues(b.provider, "completion").Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

// State reports the breaker state as a string (closed, half-open, open).
func (b *BreakerGenerator) State() string {
	return b.cb.State().String()
}

// Close closes the wrapped generator when it holds resources.
func (b *BreakerGenerator) Close() error {
	if c, ok := b.next.(Closer); ok {
		return c.Close()
	}
	return nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return metrics.BreakerHalfOpen
	case gobreaker.StateOpen:
		return metrics.BreakerOpen
	default:
		return metrics.BreakerClosed
	}
}
