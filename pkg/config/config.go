// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	// Database connections
	Staging   *PostgresConfig
	Warehouse *SnowflakeConfig

	// Cleansing settings
	DatePattern    string // PostgreSQL-style pattern for TIMESTAMPTZ attributes
	WorkerID       string // identifies this worker in provenance records
	ProductWorkers int    // 1 means strictly sequential product processing

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables. A .env file
// in the working directory is applied first when present.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	cfg := &Config{
		DatePattern:    getEnv("CLEANSE_DATE_PATTERN", "YYYY/MM/DD"),
		WorkerID:       getEnv("CLEANSE_WORKER_ID", defaultWorkerID()),
		ProductWorkers: getEnvAsInt("CLEANSE_PRODUCT_WORKERS", 1),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
	}

	pgConfig, err := LoadPostgresConfig()
	if err != nil {
		return nil, errors.New("failed to load staging database configuration: " + err.Error())
	}
	cfg.Staging = pgConfig

	sfConfig, err := LoadSnowflakeConfig()
	if err != nil {
		return nil, errors.New("failed to load reference warehouse configuration: " + err.Error())
	}
	cfg.Warehouse = sfConfig

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Staging == nil {
		return errors.New("staging database configuration is required")
	}

	if c.Warehouse == nil {
		return errors.New("reference warehouse configuration is required")
	}

	if c.DatePattern == "" {
		return errors.New("date pattern must not be empty")
	}

	if c.ProductWorkers < 1 {
		return errors.New("product worker count must be at least 1")
	}

	return nil
}

// defaultWorkerID builds a stable-enough identity for provenance audit
// records when none is configured.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "cleanse"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

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
