package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker states exported by LLMBreakerState.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_plan_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meal_plan_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_plan_llm_requests_total",
			Help: "Total number of LLM requests by provider and outcome",
		},
		[]string{"provider", "outcome"}, // success, error, rejected
	)

	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_plan_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"provider", "kind"}, // prompt, completion
	)

	LLMBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meal_plan_llm_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	MealPlansGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meal_plan_generated_total",
			Help: "Total number of meal plans generated and stored",
		},
	)

	MealPlanGenerationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meal_plan_generation_failures_total",
			Help: "Total number of failed meal plan generations by reason",
		},
		[]string{"reason"}, // llm, invalid_output, storage
	)
)
