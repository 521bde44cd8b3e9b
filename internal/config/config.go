// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Rate      RateLimitConfig
	Admin     AdminConfig
	Upstream  UpstreamConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Analytics AnalyticsConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Env      string
	LogLevel string
}

// IsDevelopment returns true if the app is running in development mode.
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "development" || a.Env == "dev"
}

// IsProduction returns true if the app is running in production mode.
func (a AppConfig) IsProduction() bool {
	return a.Env == "production" || a.Env == "prod"
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Address returns the server address in host:port format.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig holds admission gate configuration.
type RateLimitConfig struct {
	ClientRequests int
	ClientWindow   time.Duration
	DailyRequests  int
	TrustProxy     bool
	TrustedProxies []string
}

// AdminConfig holds operator access configuration.
type AdminConfig struct {
	Password    string
	TokenSecret string
	TokenTTL    time.Duration
	CookieName  string
	LoginRate   float64
	LoginBurst  int
}

// UpstreamConfig holds the downstream inference API configuration.
type UpstreamConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// AnalyticsConfig holds decision analytics configuration.
type AnalyticsConfig struct {
	Enabled       bool
	FlushInterval time.Duration
	BatchSize     int
	KeyPrefix     string
	TTL           time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first if present; real environment wins.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// App config
	cfg.App.Env = getEnvOrDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Server config
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", "0.0.0.0")

	if cfg.Server.Port, err = getEnvAsInt("SERVER_PORT", 8080); err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	if cfg.Server.ReadTimeout, err = getEnvAsDuration("SERVER_READ_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("invalid SERVER_READ_TIMEOUT: %w", err)
	}
	// Upstream inference calls are slow; the write timeout must cover them.
	if cfg.Server.WriteTimeout, err = getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT: %w", err)
	}
	if cfg.Server.ShutdownTimeout, err = getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT: %w", err)
	}

	if err := loadRate(cfg); err != nil {
		return nil, err
	}
	if err := loadAdmin(cfg); err != nil {
		return nil, err
	}

	// Upstream config
	cfg.Upstream.URL = getEnvOrDefault("UPSTREAM_URL", "https://api.openai.com/v1/chat/completions")
	cfg.Upstream.APIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.Upstream.Timeout, err = getEnvAsDuration("UPSTREAM_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT: %w", err)
	}

	if err := loadDatabase(cfg); err != nil {
		return nil, err
	}
	if err := loadRedis(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadRate(cfg *Config) error {
	var err error

	if cfg.Rate.ClientRequests, err = getEnvAsInt("RATE_LIMIT_CLIENT_REQUESTS", 5); err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_CLIENT_REQUESTS: %w", err)
	}
	if cfg.Rate.ClientRequests <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT_CLIENT_REQUESTS: must be positive, got %d", cfg.Rate.ClientRequests)
	}

	if cfg.Rate.ClientWindow, err = getEnvAsDuration("RATE_LIMIT_CLIENT_WINDOW", time.Minute); err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_CLIENT_WINDOW: %w", err)
	}
	if cfg.Rate.ClientWindow <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT_CLIENT_WINDOW: must be positive, got %s", cfg.Rate.ClientWindow)
	}

	if cfg.Rate.DailyRequests, err = getEnvAsInt("RATE_LIMIT_DAILY_REQUESTS", 2000); err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_DAILY_REQUESTS: %w", err)
	}
	if cfg.Rate.DailyRequests <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT_DAILY_REQUESTS: must be positive, got %d", cfg.Rate.DailyRequests)
	}

	if cfg.Rate.TrustProxy, err = getEnvAsBool("RATE_LIMIT_TRUST_PROXY", false); err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_TRUST_PROXY: %w", err)
	}
	cfg.Rate.TrustedProxies = getEnvAsList("RATE_LIMIT_TRUSTED_PROXIES")

	return nil
}

func loadAdmin(cfg *Config) error {
	var err error

	cfg.Admin.Password = os.Getenv("ADMIN_PASSWORD")
	cfg.Admin.TokenSecret = os.Getenv("ADMIN_TOKEN_SECRET")
	cfg.Admin.CookieName = getEnvOrDefault("ADMIN_COOKIE_NAME", "super_access")

	if cfg.Admin.TokenTTL, err = getEnvAsDuration("ADMIN_TOKEN_TTL", 24*time.Hour); err != nil {
		return fmt.Errorf("invalid ADMIN_TOKEN_TTL: %w", err)
	}
	if cfg.Admin.LoginRate, err = getEnvAsFloat("ADMIN_LOGIN_RATE", 0.2); err != nil {
		return fmt.Errorf("invalid ADMIN_LOGIN_RATE: %w", err)
	}
	if cfg.Admin.LoginBurst, err = getEnvAsInt("ADMIN_LOGIN_BURST", 5); err != nil {
		return fmt.Errorf("invalid ADMIN_LOGIN_BURST: %w", err)
	}

	return nil
}

func loadDatabase(cfg *Config) error {
	var err error

	cfg.Database.Host = os.Getenv("DB_HOST")
	if cfg.Database.Port, err = getEnvAsInt("DB_PORT", 5432); err != nil {
		return fmt.Errorf("invalid DB_PORT: %w", err)
	}
	cfg.Database.User = getEnvOrDefault("DB_USER", "chartgate")
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", "")
	cfg.Database.DBName = getEnvOrDefault("DB_NAME", "chartgate")
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	if cfg.Database.MaxOpenConns, err = getEnvAsInt("DB_MAX_OPEN_CONNS", 5); err != nil {
		return fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	if cfg.Database.MaxIdleConns, err = getEnvAsInt("DB_MAX_IDLE_CONNS", 1); err != nil {
		return fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}
	if cfg.Database.ConnMaxLifetime, err = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute); err != nil {
		return fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	return nil
}

func loadRedis(cfg *Config) error {
	var err error

	cfg.Redis.Host = getEnvOrDefault("REDIS_HOST", "localhost")
	if cfg.Redis.Port, err = getEnvAsInt("REDIS_PORT", 6379); err != nil {
		return fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", "")
	if cfg.Redis.DB, err = getEnvAsInt("REDIS_DB", 0); err != nil {
		return fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.Redis.PoolSize, err = getEnvAsInt("REDIS_POOL_SIZE", 10); err != nil {
		return fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
	}

	if cfg.Analytics.Enabled, err = getEnvAsBool("ANALYTICS_ENABLED", false); err != nil {
		return fmt.Errorf("invalid ANALYTICS_ENABLED: %w", err)
	}
	if cfg.Analytics.FlushInterval, err = getEnvAsDuration("ANALYTICS_FLUSH_INTERVAL", 10*time.Second); err != nil {
		return fmt.Errorf("invalid ANALYTICS_FLUSH_INTERVAL: %w", err)
	}
	if cfg.Analytics.BatchSize, err = getEnvAsInt("ANALYTICS_BATCH_SIZE", 100); err != nil {
		return fmt.Errorf("invalid ANALYTICS_BATCH_SIZE: %w", err)
	}
	cfg.Analytics.KeyPrefix = getEnvOrDefault("ANALYTICS_KEY_PREFIX", "chartgate:decisions")
	if cfg.Analytics.TTL, err = getEnvAsDuration("ANALYTICS_TTL", 7*24*time.Hour); err != nil {
		return fmt.Errorf("invalid ANALYTICS_TTL: %w", err)
	}

	return nil
}

// DatabaseEnabled returns true if database configuration is provided.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != "" && c.Database.Password != ""
}

// AnalyticsEnabled returns true if decision analytics should be shipped to Redis.
func (c *Config) AnalyticsEnabled() bool {
	return c.Analytics.Enabled && c.Redis.Host != ""
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the environment variable as an integer.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// getEnvAsFloat returns the environment variable as a float.
func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(valueStr, 64)
}

// getEnvAsBool returns the environment variable as a boolean.
func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(valueStr)
}

// getEnvAsDuration returns the environment variable as a duration.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// getEnvAsList splits a comma-separated variable, dropping empty items.
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
