// Package config loads service configuration from environment variables,
// with optional .env support for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the ledger engine service.
type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	OracleURL     string
	OracleTimeout time.Duration
	CacheTTL      time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		OracleURL:     getEnv("ORACLE_URL", ""),
		OracleTimeout: getDuration("ORACLE_TIMEOUT_SECONDS", 10),
		CacheTTL:      getDuration("CACHE_TTL_SECONDS", 30),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultSeconds int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}
