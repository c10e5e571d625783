// Package api exposes the meal plan service over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meal-plan-service/internal/app"
	"meal-plan-service/internal/auth"
	"meal-plan-service/internal/mealplan"
)

// TelegramWebhookPath receives Telegram updates when the bot is enabled.
const TelegramWebhookPath = "/telegram/webhook"

// PlanService is the behavior the handlers need from app.Service.
type PlanService interface {
	GeneratePlan(ctx context.Context, req mealplan.GenerateRequest) (*mealplan.MealPlan, error)
	GetPlan(ctx context.Context, id string) (*mealplan.MealPlan, error)
	UpdatePlan(ctx context.Context, id string, u mealplan.UpdateRequest) (*mealplan.MealPlan, error)
	DeletePlan(ctx context.Context, id string) (*mealplan.MealPlan, error)
	ListPlans(ctx context.Context, limit int) ([]*mealplan.MealPlan, error)
	DumpPlans(ctx context.Context) ([]*mealplan.MealPlan, error)
	ImportMeal(ctx context.Context, planID, url string) (*mealplan.MealPlan, error)
	UsageReport(ctx context.Context, days int) (*app.UsageReport, error)
	Ready(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	CORSAllowedOrigins []string
	// GenerateRateLimit is the per-IP budget per minute for LLM-backed endpoints.
	GenerateRateLimit int
	DebugEndpoints    bool
	// TrustedProxyHops is the number of reverse proxies in front of the
	// service that append to X-Forwarded-For. Zero keys on the TCP peer.
	TrustedProxyHops int
	// Verifier enables bearer authentication when non-nil.
	Verifier *auth.Verifier
	// TelegramWebhook is mounted at TelegramWebhookPath when non-nil.
	TelegramWebhook http.Handler
}

// Handler serves the HTTP API.
type Handler struct {
	svc PlanService
}

// NewRouter builds the chi router with every route and middleware.
func NewRouter(svc PlanService, opts Options) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(Instrument)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"Location", "X-Request-ID"},
		MaxAge:         86400,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	// Public
	r.Get("/health/live", h.healthLive)
	r.Get("/health/ready", h.healthReady)
	r.Handle("/metrics", promhttp.Handler())
	if opts.TelegramWebhook != nil {
		r.Post(TelegramWebhookPath, opts.TelegramWebhook.ServeHTTP)
	}

	limitLLM := RateLimitByIP(opts.GenerateRateLimit, opts.TrustedProxyHops)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(opts.Verifier))

		r.Route("/meal-plans", func(r chi.Router) {
			r.With(limitLLM).Post("/generate", h.generatePlan)
			r.Get("/", h.listPlans)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(validPlanID)
				r.Get("/", h.getPlan)
				r.Put("/", h.updatePlan)
				r.Delete("/", h.deletePlan)
				r.With(limitLLM).Post("/meals/import", h.importMeal)
			})
		})

		if opts.DebugEndpoints {
			r.Get("/debug/get-database", h.dumpPlans)
		}
		r.Get("/admin/usage", h.usageReport)
	})

	return r
}
