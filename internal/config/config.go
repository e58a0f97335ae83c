// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string

	LogLevel  string
	LogFormat string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Billing BillingConfig
}

// BillingConfig carries every knob the billing engine needs. It is built once
// at startup and injected into the components that use it; nothing in the
// billing packages reads the environment directly.
type BillingConfig struct {
	Enabled             bool
	StripeSecretKey     string
	StripeWebhookSecret string
	SeatPriceID         string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	UpgradeURL          string
	ProviderTimeout     time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "rosterly"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "rosterly"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		Billing: BillingConfig{
			Enabled:             getenvBool("BILLING_ENABLED", true),
			StripeSecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			SeatPriceID:         strings.TrimSpace(getenv("STRIPE_SEAT_PRICE_ID", "")),
			CheckoutSuccessURL:  getenv("BILLING_CHECKOUT_SUCCESS_URL", "/billing/success"),
			CheckoutCancelURL:   getenv("BILLING_CHECKOUT_CANCEL_URL", "/billing"),
			UpgradeURL:          getenv("BILLING_UPGRADE_URL", "/billing/upgrade"),
			ProviderTimeout:     getenvDuration("BILLING_PROVIDER_TIMEOUT", 15*time.Second),
		},
	}
}

// Module provides Config to the fx graph.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(func(cfg Config) BillingConfig { return cfg.Billing }),
	fx.Provide(NewSweepConfigHolder),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
