package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"meal-plan-service/internal/api"
	"meal-plan-service/internal/app"
	"meal-plan-service/internal/auth"
	"meal-plan-service/internal/clipper"
	"meal-plan-service/internal/config"
	"meal-plan-service/internal/database"
	"meal-plan-service/internal/llm"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/metrics"
	"meal-plan-service/internal/planner"
	"meal-plan-service/internal/storage"
	"meal-plan-service/internal/telegram"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx := context.Background()

	// 2. Local database for usage metrics (and plans on the sqlite backend)
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()
	metricsStore := metrics.NewStore(db.SQL)

	// 3. LLM and plan storage
	gen, err := llm.NewTextGenerator(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create LLM client")
	}
	defer gen.Close()

	store, err := storage.Open(ctx, cfg, db.SQL)
	if err != nil {
		logging.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("Failed to open meal plan storage")
	}
	defer store.Close()

	// 4. Optional Telegram front end
	var usage app.UsageStore = metricsStore
	var tgSender telegram.Sender
	if cfg.TelegramEnabled() {
		tgAPI, err := telegram.Connect(cfg.TelegramBotToken, cfg.TelegramWebhookURL, cfg.TelegramWebhookSecret)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize Telegram Bot")
		}
		tgSender = tgAPI
		usage = telegram.NewUsageAlerter(metricsStore, tgAPI, cfg.AdminTelegramID)
	}

	// 5. Services
	svc := app.NewService(
		planner.NewPlanner(gen, cfg.PlannerMaxAttempts),
		clipper.NewClipper(gen),
		store,
		usage,
		app.Options{DefaultMealCount: cfg.DefaultMealCount, DataPath: filepath.Dir(cfg.DatabasePath)},
	)

	routerOpts := api.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		GenerateRateLimit:  cfg.RateLimitGeneratePerMinute,
		DebugEndpoints:     cfg.DebugEndpoints,
		TrustedProxyHops:   cfg.TrustedProxyHops,
	}
	if cfg.AuthEnabled() {
		if routerOpts.Verifier, err = auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer); err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT verifier")
		}
	} else {
		logging.Warn().Msg("JWT_SECRET not set, API authentication is disabled")
	}

	var bot *telegram.Bot
	if tgSender != nil {
		bot = telegram.NewBot(tgSender, svc, telegram.Options{
			AllowedUserIDs: cfg.TelegramAllowedUserIDs,
			AdminID:        cfg.AdminTelegramID,
			SecretToken:    cfg.TelegramWebhookSecret,
		})
		routerOpts.TelegramWebhook = bot
	}

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(svc, routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().
			Str("port", cfg.Port).
			Str("llm_provider", cfg.LLMProvider).
			Str("storage", cfg.StorageBackend).
			Bool("telegram", bot != nil).
			Msg("Meal plan API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info().Msg("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logging.Error().Err(err).Msg("Server forced to shutdown")
	}
	if bot != nil {
		bot.Wait()
	}

	logging.Info().Msg("Server exiting")
}
