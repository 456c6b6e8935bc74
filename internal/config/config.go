package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the runtime settings read from the environment.
// Secrets and connection strings come from the environment (.env in
// development), protocol constants live in matching_config.go.
type Config struct {
	HTTPAddr    string
	PostgresDSN string
	RedisAddr   string
	RedisDB     int
	JWTSecret   string
	LogLevel    string
}

// Load reads configuration from the environment. PAIRWAVE_JWT_SECRET is
// the only hard requirement; everything else has a development default.
func Load() (*Config, error) {
	secret := os.Getenv("PAIRWAVE_JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("PAIRWAVE_JWT_SECRET is not set")
	}

	redisDB, err := strconv.Atoi(getenv("PAIRWAVE_REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAIRWAVE_REDIS_DB: %w", err)
	}

	cfg := &Config{
		HTTPAddr:    getenv("PAIRWAVE_HTTP_ADDR", ":8080"),
		PostgresDSN: getenv("PAIRWAVE_POSTGRES_DSN", "host=localhost user=user password=password dbname=pairwave port=5432 sslmode=disable"),
		RedisAddr:   getenv("PAIRWAVE_REDIS_ADDR", "localhost:6379"),
		RedisDB:     redisDB,
		JWTSecret:   secret,
		LogLevel:    getenv("PAIRWAVE_LOG_LEVEL", "info"),
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
