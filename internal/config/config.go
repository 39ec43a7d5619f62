// Package config provides configuration management for the ad network service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Geo       GeoConfig
	Fraud     FraudConfig
	Karma     KarmaConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	// PublicBaseURL is the externally visible base URL used to build
	// click-tracking URLs embedded in served ads.
	PublicBaseURL string
	// FallbackRedirectURL is where click requests are sent when the ad is
	// unknown or an internal error occurs; the visitor is never stranded.
	FallbackRedirectURL string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration for the optional
// click-event analytics sink.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// GeoConfig holds geolocation provider configuration
type GeoConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// FraudConfig holds the tunable fraud gating thresholds. The detection
// policy itself lives in internal/fraud; these are the knobs.
type FraudConfig struct {
	MaxClicksPerHour  int
	MaxClicksPer5Min  int
	MinTrustScore     int
	HighRiskCountries []string
}

// KarmaConfig holds karma settlement configuration
type KarmaConfig struct {
	CostPerClick       int64
	SmallSiteThreshold int64
	SmallSiteBonus     float64
	CTRWindow          time.Duration
	SignupBonus        int64
}

// RateLimitConfig holds rate limiting configuration for the embed endpoints
type RateLimitConfig struct {
	EmbedRPS   int
	EmbedBurst int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:                getEnv("SERVER_PORT", "8080"),
			Host:                getEnv("SERVER_HOST", "0.0.0.0"),
			PublicBaseURL:       getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
			FallbackRedirectURL: getEnv("FALLBACK_REDIRECT_URL", "https://example.com"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "ad_network"),
				User:           getEnv("POSTGRES_USER", "adnet"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "ad_network"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Geo: GeoConfig{
			BaseURL: getEnv("GEO_API_URL", "https://ipgeolocation.abstractapi.com/v1/"),
			APIKey:  getEnv("GEO_API_KEY", ""),
			Timeout: getEnvAsDuration("GEO_TIMEOUT", 2*time.Second),
		},
		Fraud: FraudConfig{
			MaxClicksPerHour:  getEnvAsInt("FRAUD_MAX_CLICKS_PER_HOUR", 10),
			MaxClicksPer5Min:  getEnvAsInt("FRAUD_MAX_CLICKS_PER_5MIN", 3),
			MinTrustScore:     getEnvAsInt("FRAUD_MIN_TRUST_SCORE", 50),
			HighRiskCountries: getEnvAsList("FRAUD_HIGH_RISK_COUNTRIES", []string{"Unknown"}),
		},
		Karma: KarmaConfig{
			CostPerClick:       int64(getEnvAsInt("KARMA_COST_PER_CLICK", 10)),
			SmallSiteThreshold: int64(getEnvAsInt("KARMA_SMALL_SITE_THRESHOLD", 1000)),
			SmallSiteBonus:     getEnvAsFloat("KARMA_SMALL_SITE_BONUS", 1.5),
			CTRWindow:          getEnvAsDuration("KARMA_CTR_WINDOW", 30*24*time.Hour),
			SignupBonus:        int64(getEnvAsInt("KARMA_SIGNUP_BONUS", 100)),
		},
		RateLimit: RateLimitConfig{
			EmbedRPS:   getEnvAsInt("RATE_LIMIT_EMBED_RPS", 20),
			EmbedBurst: getEnvAsInt("RATE_LIMIT_EMBED_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma-separated environment variable as a string slice
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			values = append(values, p)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
