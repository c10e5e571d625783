package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

// Storage backends.
const (
	StorageFirestore = "firestore"
	StorageSQLite    = "sqlite"
	StorageMemory    = "memory"
)

// Config holds the configuration for the application.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// LLM Config
	LLMProvider        string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	GroqAPIKey         string
	GroqModel          string
	GeminiAPIKey       string
	GeminiModel        string
	LLMTimeout         time.Duration
	LLMTemperature     float64
	LLMBreakerFailures uint32
	LLMBreakerCooldown time.Duration

	// Planner Config
	PlannerMaxAttempts int
	DefaultMealCount   int

	// Storage Config
	StorageBackend      string
	FirestoreProjectID  string
	FirestoreDatabaseID string
	FirestoreCollection string
	DatabasePath        string

	// HTTP Config
	JWTSecret                  string
	JWTIssuer                  string
	RateLimitGeneratePerMinute int
	CORSAllowedOrigins         []string
	DebugEndpoints             bool
	TrustedProxyHops           int

	// Telegram Config (optional)
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramWebhookSecret  string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64
}

// webhookSecretPattern is the character set Telegram accepts for secret_token.
var webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

type loadOptions struct {
	skipLLMKeys bool
}

// Option tunes what NewFromEnv requires.
type Option func(*loadOptions)

// WithoutLLMKeys skips the provider API key check, for commands that never
// call a model.
func WithoutLLMKeys() Option {
	return func(o *loadOptions) { o.skipLLMKeys = true }
}

// NewFromEnv creates a new Config object from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment take precedence.
func NewFromEnv(opts ...Option) (*Config, error) {
	_ = godotenv.Load()

	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		LLMProvider:           strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GroqAPIKey:            os.Getenv("GROQ_API_KEY"),
		GroqModel:             getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		StorageBackend:        strings.ToLower(getEnv("STORAGE_BACKEND", StorageFirestore)),
		FirestoreProjectID:    getEnv("FIRESTORE_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),
		FirestoreDatabaseID:   getEnv("FIRESTORE_DATABASE_ID", "meal-plan-db"),
		FirestoreCollection:   getEnv("FIRESTORE_COLLECTION", "meal-plans"),
		DatabasePath:          getEnv("DATABASE_PATH", "data/meal-plan.db"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		JWTIssuer:             getEnv("JWT_ISSUER", "meal-plan-service"),
		TelegramBotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL:    os.Getenv("TELEGRAM_WEBHOOK_URL"),
		TelegramWebhookSecret: os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		CORSAllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	var err error
	if cfg.LLMTimeout, err = durationEnv("LLM_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LLMBreakerCooldown, err = durationEnv("LLM_BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LLMTemperature, err = floatEnv("LLM_TEMPERATURE", 0.7); err != nil {
		return nil, err
	}
	failures, err := intEnv("LLM_BREAKER_FAILURES", 5)
	if err != nil {
		return nil, err
	}
	if failures < 1 {
		return nil, fmt.Errorf("LLM_BREAKER_FAILURES must be at least 1")
	}
	cfg.LLMBreakerFailures = uint32(failures)

	if cfg.PlannerMaxAttempts, err = intEnv("PLANNER_MAX_ATTEMPTS", 2); err != nil {
		return nil, err
	}
	if cfg.PlannerMaxAttempts < 1 {
		return nil, fmt.Errorf("PLANNER_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.DefaultMealCount, err = intEnv("DEFAULT_MEAL_COUNT", 7); err != nil {
		return nil, err
	}
	if cfg.DefaultMealCount < 1 || cfg.DefaultMealCount > 21 {
		return nil, fmt.Errorf("DEFAULT_MEAL_COUNT must be between 1 and 21")
	}
	if cfg.RateLimitGeneratePerMinute, err = intEnv("RATE_LIMIT_GENERATE_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if cfg.DebugEndpoints, err = boolEnv("DEBUG_ENDPOINTS", false); err != nil {
		return nil, err
	}
	if cfg.TrustedProxyHops, err = intEnv("TRUSTED_PROXY_HOPS", 0); err != nil {
		return nil, err
	}
	if cfg.TrustedProxyHops < 0 {
		return nil, fmt.Errorf("TRUSTED_PROXY_HOPS must not be negative")
	}
	if cfg.AdminTelegramID, err = int64Env("ADMIN_TELEGRAM_ID"); err != nil {
		return nil, err
	}
	for _, raw := range splitList(os.Getenv("TELEGRAM_ALLOWED_USER_IDS")) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALLOWED_USER_IDS contains an invalid id %q", raw)
		}
		cfg.TelegramAllowedUserIDs = append(cfg.TelegramAllowedUserIDs, id)
	}

	if cfg.TelegramEnabled() {
		if cfg.TelegramWebhookSecret == "" {
			return nil, fmt.Errorf("TELEGRAM_WEBHOOK_SECRET environment variable not set")
		}
		if !webhookSecretPattern.MatchString(cfg.TelegramWebhookSecret) {
			return nil, fmt.Errorf("TELEGRAM_WEBHOOK_SECRET may only contain A-Z, a-z, 0-9, _ and - (1 to 256 characters)")
		}
	}

	switch cfg.LLMProvider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" && !lo.skipLLMKeys {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	case ProviderGroq:
		if cfg.GroqAPIKey == "" && !lo.skipLLMKeys {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" && !lo.skipLLMKeys {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.LLMProvider)
	}

	switch cfg.StorageBackend {
	case StorageFirestore:
		if cfg.FirestoreProjectID == "" {
			return nil, fmt.Errorf("FIRESTORE_PROJECT_ID environment variable not set")
		}
	case StorageSQLite, StorageMemory:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	return cfg, nil
}

// TelegramEnabled reports whether the Telegram bot should be started.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// AuthEnabled reports whether API requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func int64Env(key string) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return v, nil
}
