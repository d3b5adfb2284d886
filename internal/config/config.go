package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int      `validate:"min=1,max=65535"`
	JWTSecret   string   `validate:"required"`
	DatabaseURL string   `validate:"required"`
	CORSOrigins []string `validate:"dive,required"`
	FrontendURL string   `validate:"required,url"`

	PaymentProvider     string `validate:"oneof=stripe mock"`
	StripeSecretKey     string `validate:"required_if=PaymentProvider stripe"`
	StripeWebhookSecret string `validate:"required"`
	StripePriceID       string

	GracePeriodDays    int `validate:"min=0"`
	FreeDailyLimit     int `validate:"min=0"`
	PremiumDailyLimit  int `validate:"gtefield=FreeDailyLimit"`
	UsageRetentionDays int `validate:"min=0"`

	SweepInterval   time.Duration `validate:"min=0"`
	ProviderTimeout time.Duration `validate:"gt=0"`

	LogLevel  string `validate:"oneof=trace debug info warn error"`
	LogFormat string `validate:"oneof=console json"`
}

var validate = validator.New()

// Load reads configuration from environment variables with sensible defaults.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getEnvInt("PORT", 4001)
	if err != nil {
		return nil, err
	}
	graceDays, err := getEnvInt("GRACE_PERIOD_DAYS", 3)
	if err != nil {
		return nil, err
	}
	freeLimit, err := getEnvInt("FREE_DAILY_LIMIT", 5)
	if err != nil {
		return nil, err
	}
	premiumLimit, err := getEnvInt("PREMIUM_DAILY_LIMIT", 50)
	if err != nil {
		return nil, err
	}
	retention, err := getEnvInt("USAGE_RETENTION_DAYS", 90)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := getEnvDuration("SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	providerTimeout, err := getEnvDuration("PROVIDER_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	cfg := &Config{
		Port:                port,
		JWTSecret:           getEnv("JWT_SECRET", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		CORSOrigins:         origins,
		FrontendURL:         strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		PaymentProvider:     strings.ToLower(getEnv("PAYMENT_PROVIDER", "stripe")),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceID:       getEnv("STRIPE_PRICE_ID", ""),
		GracePeriodDays:     graceDays,
		FreeDailyLimit:      freeLimit,
		PremiumDailyLimit:   premiumLimit,
		UsageRetentionDays:  retention,
		SweepInterval:       sweepInterval,
		ProviderTimeout:     providerTimeout,
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "console")),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
