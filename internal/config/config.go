// Package config loads service configuration from the environment. A .env
// file is honored in development (real environment variables win), and any
// value written as secret://<path> is resolved through the configured
// secret source before the config is handed out.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/brindlepay/subscription-service/internal/adapters/secrets"
	"github.com/brindlepay/subscription-service/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Gateway     GatewayConfig
	Auth        AuthConfig
	Workers     WorkerConfig
	Logger      LoggerConfig
	Environment string // development, staging, production
}

// Production reports whether the service runs against real money.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	MetricsPort     int
	ShutdownTimeout time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds the queue and timer backend configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GatewayConfig holds the Base spend-permission gateway configuration.
type GatewayConfig struct {
	MainnetURL string
	TestnetURL string
	APIKey     string
	Timeout    time.Duration
}

// AuthConfig holds credential verification configuration.
type AuthConfig struct {
	// CDPKeysDir is a directory of PEM public keys, one file per kid.
	CDPKeysDir string
	// CDPIssuer, when set, is enforced against the token's issuer claim.
	CDPIssuer string
	// CronSecret guards the operator endpoints.
	CronSecret string
}

// WorkerConfig holds background processing configuration. Zero values fall
// back to each component's defaults.
type WorkerConfig struct {
	OrderWorkers      int
	WebhookWorkers    int
	ReconcileInterval time.Duration
	StallAfter        time.Duration
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// Load reads the environment, applies defaults, resolves secret
// references and validates the result.
func Load(ctx context.Context) (*Config, error) {
	// A missing .env file is not an error; containers set the environment
	// directly.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			MetricsPort:     getEnvAsInt("METRICS_PORT", 9090),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimitRPS:    getEnvAsFloat("RATE_LIMIT_RPS", 10),
			RateLimitBurst:  getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "subscription_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			MainnetURL: getEnv("BASE_GATEWAY_MAINNET_URL", "https://gateway.base.org/spend-permissions/v1"),
			TestnetURL: getEnv("BASE_GATEWAY_TESTNET_URL", "https://gateway.sepolia.base.org/spend-permissions/v1"),
			APIKey:     getEnv("BASE_GATEWAY_API_KEY", ""),
			Timeout:    getEnvAsDuration("BASE_GATEWAY_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			CDPKeysDir: getEnv("CDP_KEYS_DIR", "keys/cdp"),
			CDPIssuer:  getEnv("CDP_ISSUER", ""),
			CronSecret: getEnv("CRON_SECRET", ""),
		},
		Workers: WorkerConfig{
			OrderWorkers:      getEnvAsInt("ORDER_WORKERS", 4),
			WebhookWorkers:    getEnvAsInt("WEBHOOK_WORKERS", 4),
			ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", 5*time.Minute),
			StallAfter:        getEnvAsDuration("STALL_AFTER", 15*time.Minute),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.resolveSecrets(ctx); err != nil {
		return nil, err
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Gateway.APIKey == "" {
		return nil, fmt.Errorf("BASE_GATEWAY_API_KEY is required")
	}
	if cfg.Production() && cfg.Auth.CronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required in production")
	}

	return cfg, nil
}

const secretScheme = "secret://"

// resolveSecrets replaces secret:// references with values from the
// configured source. The source is only constructed when a reference
// actually appears, so the default env backend never dials anything.
func (c *Config) resolveSecrets(ctx context.Context) error {
	refs := []*string{
		&c.Database.Password,
		&c.Redis.Password,
		&c.Gateway.APIKey,
		&c.Auth.CronSecret,
	}

	var source secrets.Source
	for _, ref := range refs {
		path, ok := strings.CutPrefix(*ref, secretScheme)
		if !ok {
			continue
		}
		if source == nil {
			var err error
			source, err = secrets.FromEnv(ctx, observability.NewNopLogger())
			if err != nil {
				return fmt.Errorf("init secret source: %w", err)
			}
		}
		value, err := source.Lookup(ctx, path)
		if err != nil {
			return fmt.Errorf("resolve secret: %w", err)
		}
		*ref = value
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
