// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
//
// Marketplace policy values (commission, refund tiers, grace periods) are
// deliberately NOT here: admins change those at runtime, so they live in the
// platform_settings table (see internal/settings).
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string // Signing secret for inbound webhook verification
	Currency            string // ISO currency code, single-currency platform

	// Security
	AdminSecret  string // Admin API secret (dispute resolution, job endpoints)
	RateLimitRPM int

	// Background jobs
	ExpirySweepInterval      time.Duration
	AutoConfirmSweepInterval time.Duration
	PayoutSweepInterval      time.Duration
	ReconcileSweepInterval   time.Duration

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultCurrency  = "gbp"
	DefaultRateLimit = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:              os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:          os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:                 getEnv("CURRENCY", DefaultCurrency),
		AdminSecret:              os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:             getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		ExpirySweepInterval:      getEnvDuration("EXPIRY_SWEEP_INTERVAL", 15*time.Minute),
		AutoConfirmSweepInterval: getEnvDuration("AUTO_CONFIRM_SWEEP_INTERVAL", 10*time.Minute),
		PayoutSweepInterval:      getEnvDuration("PAYOUT_SWEEP_INTERVAL", 24*time.Hour),
		ReconcileSweepInterval:   getEnvDuration("RECONCILE_SWEEP_INTERVAL", time.Hour),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.Env == "production" && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	return nil
}

// IsProduction returns true in production environment
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
