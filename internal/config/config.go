package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetBoolEnv returns a bool environment variable or a default value.
func GetBoolEnv(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// GetDurationEnv returns a duration environment variable or a default value.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// IsProduction checks if the app runs in production mode.
func IsProduction() bool {
	return GetEnv("ENV", "development") == "production"
}

// GatewayConfig holds credentials for a payment gateway.
type GatewayConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

// Gateways reads gateway credentials from the environment.
func Gateways() map[string]GatewayConfig {
	return map[string]GatewayConfig{
		"stripe": {
			APIKey:        GetEnv("STRIPE_API_KEY", ""),
			WebhookSecret: GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		"binance_pay": {
			APIKey:        GetEnv("BINANCE_PAY_API_KEY", ""),
			WebhookSecret: GetEnv("BINANCE_PAY_WEBHOOK_SECRET", ""),
			BaseURL:       GetEnv("BINANCE_PAY_BASE_URL", "https://bpay.binanceapi.com"),
		},
		"coinpay": {
			APIKey:        GetEnv("COINPAY_API_KEY", ""),
			WebhookSecret: GetEnv("COINPAY_WEBHOOK_SECRET", ""),
			BaseURL:       GetEnv("COINPAY_BASE_URL", ""),
		},
	}
}

// LegacyMirrorEnabled controls the denormalized spent-total mirror writes.
func LegacyMirrorEnabled() bool {
	return GetBoolEnv("LEGACY_MIRROR_ENABLED", false)
}
