package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"contest-core/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const defaultVotePackages = "starter:1.00:USD:10,fan:4.00:USD:50,superfan:7.00:USD:100"

// Config holds all configuration values for the application
type Config struct {
	Port            string
	Environment     string
	LogLevel        string
	AllowedOrigins  []string
	DatabaseURL     string
	DatabaseReadURL string // Read replica URL for SELECT queries
	RedisURL        string

	JWTSecret      string
	GoogleClientID string
	AdminSubjects  []string

	AllowAnonymousFreeVotes bool
	FreeVoteCooldown        time.Duration

	PaymentIntentTTL       time.Duration
	PaymentProviderTimeout time.Duration
	PayPalBaseURL          string
	PayPalClientID         string
	PayPalClientSecret     string
	VotePackages           []domain.VotePackage

	LifecycleSyncInterval time.Duration
	ExpirySweepInterval   time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	packages, err := ParseVotePackages(getEnv("VOTE_PACKAGES", defaultVotePackages))
	if err != nil {
		return nil, fmt.Errorf("invalid VOTE_PACKAGES: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "production"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:  parseList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:5174")),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		DatabaseReadURL: getEnv("DATABASE_READ_URL", getEnv("DATABASE_URL", "")), // Falls back to write DB if not set
		RedisURL:        getEnv("REDIS_URL", ""),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		AdminSubjects:  parseList(getEnv("ADMIN_SUBJECTS", "")),

		AllowAnonymousFreeVotes: getBoolEnv("ALLOW_ANONYMOUS_FREE_VOTES", false),
		FreeVoteCooldown:        getDurationEnv("FREE_VOTE_COOLDOWN", 24*time.Hour),

		PaymentIntentTTL:       getDurationEnv("PAYMENT_INTENT_TTL", 30*time.Minute),
		PaymentProviderTimeout: getDurationEnv("PAYMENT_PROVIDER_TIMEOUT", 10*time.Second),
		PayPalBaseURL:          getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		PayPalClientID:         getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret:     getEnv("PAYPAL_CLIENT_SECRET", ""),
		VotePackages:           packages,

		LifecycleSyncInterval: getDurationEnv("LIFECYCLE_SYNC_INTERVAL", 30*time.Second),
		ExpirySweepInterval:   getDurationEnv("EXPIRY_SWEEP_INTERVAL", time.Minute),

		RateLimitRPS:   getFloatEnv("HTTP_RATE_LIMIT_RPS", 20),
		RateLimitBurst: getIntEnv("HTTP_RATE_LIMIT_BURST", 40),
	}

	if cfg.FreeVoteCooldown <= 0 {
		return nil, fmt.Errorf("FREE_VOTE_COOLDOWN must be positive")
	}
	if cfg.PaymentIntentTTL <= 0 || cfg.PaymentProviderTimeout <= 0 {
		return nil, fmt.Errorf("PAYMENT_INTENT_TTL and PAYMENT_PROVIDER_TIMEOUT must be positive")
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParseVotePackages parses "id:price:currency:credits" items separated by commas
func ParseVotePackages(raw string) ([]domain.VotePackage, error) {
	items := parseList(raw)
	packages := make([]domain.VotePackage, 0, len(items))
	seen := make(map[string]bool, len(items))

	for _, item := range items {
		parts := strings.Split(item, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("package %q: want id:price:currency:credits", item)
		}

		id := strings.TrimSpace(parts[0])
		if id == "" || seen[id] {
			return nil, fmt.Errorf("package %q: empty or duplicate id", item)
		}

		price, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("package %q: price must be a positive decimal", item)
		}

		currency := strings.ToUpper(strings.TrimSpace(parts[2]))
		if len(currency) != 3 {
			return nil, fmt.Errorf("package %q: currency must be a 3-letter code", item)
		}

		credits, err := strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
		if err != nil || credits < 1 {
			return nil, fmt.Errorf("package %q: credits must be a positive integer", item)
		}

		seen[id] = true
		packages = append(packages, domain.VotePackage{
			ID:       id,
			Price:    price,
			Currency: currency,
			Credits:  credits,
		})
	}

	return packages, nil
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseList parses comma-separated values into a slice
func parseList(values string) []string {
	if values == "" {
		return []string{}
	}

	parts := strings.Split(values, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// getBoolEnv gets a boolean environment variable with a fallback value
func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getDurationEnv accepts Go duration strings such as "24h" or "90s"
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
