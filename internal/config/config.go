package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Payment lifecycle configuration
	Payment PaymentConfig

	// Provider configuration
	PayPal PayPalConfig
	Stripe StripeConfig

	// Currency conversion configuration
	Currency CurrencyConfig

	// Background jobs
	Sweeper SweeperConfig

	// Redis (optional, used for callback de-duplication)
	Redis RedisConfig

	// Prometheus metrics
	Metrics MetricsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver             string // "postgres" (lib/pq) or "pgx"
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration. Tokens are issued by the identity provider;
// this service only validates them.
type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// PaymentConfig holds lifecycle settings shared by the engine and the sweeper
type PaymentConfig struct {
	TTL         time.Duration // single authoritative TTL for expires_at and the sweeper threshold
	BaseURL     string        // public base URL of this service, used for provider return URLs
	FrontendURL string        // where callback redirects land (success/error/cancelled pages)
}

// PayPalConfig holds PayPal REST API configuration
type PayPalConfig struct {
	Enabled      bool
	Environment  string // "sandbox" or "live"
	ClientID     string
	ClientSecret string // SECRET - never expose to client
	WebhookID    string
	BrandName    string
}

// StripeConfig holds Stripe configuration
type StripeConfig struct {
	Enabled       bool
	SecretKey     string // SECRET
	WebhookSecret string // SECRET
}

// CurrencyConfig holds ExchangeRate-API configuration
type CurrencyConfig struct {
	APIKey   string
	BaseURL  string
	CacheTTL time.Duration
}

// SweeperConfig holds background job configuration
type SweeperConfig struct {
	Interval  time.Duration // expiry sweep interval
	BatchSize int
	PurgeCron string        // cron expression (with seconds) for the purge job
	Retention time.Duration // how long EXPIRED rows are kept before purge
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL       string
	DedupeTTL time.Duration
	KeyPrefix string
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// source resolves a key from the environment first, then from the optional YAML file
type source struct {
	k *koanf.Koanf
}

// Load loads configuration from environment variables, .env and an optional YAML file
// named by CONFIG_FILE. Environment variables win over file values.
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	k := koanf.New(".")
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	s := &source{k: k}

	config := &Config{
		Server: ServerConfig{
			Port:        s.getEnv("PORT", "8080"),
			Environment: s.getEnv("ENVIRONMENT", "development"),
			LogLevel:    s.getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Driver:             s.getEnv("DATABASE_DRIVER", "postgres"),
			URL:                s.getEnv("DATABASE_URL", ""),
			MaxConnections:     s.getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: s.getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(s.getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            s.getEnv("JWT_SECRET", ""),
			Issuer:            s.getEnv("JWT_ISSUER", "smarttransit-auth"),
			AccessTokenExpiry: time.Duration(s.getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: s.getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: s.getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: s.getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Payment: PaymentConfig{
			TTL:         s.getEnvAsDuration("PAYMENT_TTL", 30*time.Minute),
			BaseURL:     strings.TrimRight(s.getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),
			FrontendURL: strings.TrimRight(s.getEnv("FRONTEND_URL", "http://localhost:8080"), "/"),
		},
		PayPal: PayPalConfig{
			Enabled:      s.getEnvAsBool("PAYPAL_ENABLED", true),
			Environment:  s.getEnv("PAYPAL_ENVIRONMENT", "sandbox"),
			ClientID:     s.getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: s.getEnv("PAYPAL_CLIENT_SECRET", ""),
			WebhookID:    s.getEnv("PAYPAL_WEBHOOK_ID", ""),
			BrandName:    s.getEnv("PAYPAL_BRAND_NAME", "SmartTransit"),
		},
		Stripe: StripeConfig{
			Enabled:       s.getEnvAsBool("STRIPE_ENABLED", true),
			SecretKey:     s.getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: s.getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Currency: CurrencyConfig{
			APIKey:   s.getEnv("EXCHANGE_RATE_API_KEY", ""),
			BaseURL:  s.getEnv("EXCHANGE_RATE_API_URL", "https://v6.exchangerate-api.com/v6"),
			CacheTTL: s.getEnvAsDuration("CURRENCY_CACHE_TTL", 10*time.Minute),
		},
		Sweeper: SweeperConfig{
			Interval:  s.getEnvAsDuration("SWEEPER_INTERVAL", time.Minute),
			BatchSize: s.getEnvAsInt("SWEEPER_BATCH_SIZE", 100),
			PurgeCron: s.getEnv("PURGE_CRON", "0 0 3 * * *"),
			Retention: s.getEnvAsDuration("PURGE_RETENTION", 48*time.Hour),
		},
		Redis: RedisConfig{
			URL:       s.getEnv("REDIS_URL", ""),
			DedupeTTL: s.getEnvAsDuration("CALLBACK_DEDUPE_TTL", 72*time.Hour),
			KeyPrefix: s.getEnv("REDIS_KEY_PREFIX", "payments:callback:"),
		},
		Metrics: MetricsConfig{
			Enabled: s.getEnvAsBool("METRICS_ENABLED", true),
			Path:    s.getEnv("METRICS_PATH", "/metrics"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Payment.TTL <= 0 {
		return fmt.Errorf("PAYMENT_TTL must be positive")
	}

	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("SWEEPER_INTERVAL must be positive")
	}

	if c.Sweeper.BatchSize <= 0 {
		return fmt.Errorf("SWEEPER_BATCH_SIZE must be positive")
	}

	// Provider credentials are only required for enabled providers in production
	if c.Server.Environment == "production" {
		if c.PayPal.Enabled && (c.PayPal.ClientID == "" || c.PayPal.ClientSecret == "") {
			return fmt.Errorf("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required when PayPal is enabled")
		}
		if c.Stripe.Enabled && c.Stripe.SecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when Stripe is enabled")
		}
	}

	if c.PayPal.Environment != "sandbox" && c.PayPal.Environment != "live" {
		return fmt.Errorf("invalid PAYPAL_ENVIRONMENT: %s (must be 'sandbox' or 'live')", c.PayPal.Environment)
	}

	return nil
}

// Helper functions to get environment variables

func (s *source) getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if s.k != nil {
		if value := s.k.String(strings.ToLower(key)); value != "" {
			return value
		}
	}
	return defaultValue
}

func (s *source) getEnvAsInt(key string, defaultValue int) int {
	valueStr := s.getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func (s *source) getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := s.getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("30m") or a bare number of seconds
func (s *source) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := s.getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
	return defaultValue
}

func (s *source) getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := s.getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
