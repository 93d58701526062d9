// Package config provides CLI configuration loaded from environment variables.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/visumhq/visum-go/pkg/visum"
)

// Config holds everything the visum CLI needs to construct an API client.
type Config struct {
	BaseURL      string
	APIKey       string
	ClientID     string
	ClientSecret string
	LogLevel     string

	// MaxBatchSize caps how many records one create request carries.
	MaxBatchSize int

	// MaxConcurrentBatches caps concurrent create requests (0 = unbounded).
	MaxConcurrentBatches int

	// TimeoutSeconds is the HTTP client timeout.
	TimeoutSeconds int
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
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

// Load reads configuration from environment variables and returns a Config
// struct. It automatically loads .env file if it exists. Either VISUM_API_KEY
// or the VISUM_CLIENT_ID / VISUM_CLIENT_SECRET pair is required.
func Load() (*Config, error) {
	// Load .env file if it exists. Skip logging when absent (e.g. env from secrets/parameter store).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	apiKey := os.Getenv("VISUM_API_KEY")
	clientID := os.Getenv("VISUM_CLIENT_ID")
	clientSecret := os.Getenv("VISUM_CLIENT_SECRET")

	if apiKey == "" && (clientID == "" || clientSecret == "") {
		return nil, errors.New("either VISUM_API_KEY or both VISUM_CLIENT_ID and VISUM_CLIENT_SECRET must be set")
	}

	maxBatchSize := getEnvAsInt("VISUM_MAX_BATCH_SIZE", visum.DefaultMaxBatchSize)
	if maxBatchSize <= 0 {
		return nil, errors.New("VISUM_MAX_BATCH_SIZE must be a positive integer")
	}

	maxConcurrentBatches := getEnvAsInt("VISUM_MAX_CONCURRENT_BATCHES", 0)
	if maxConcurrentBatches < 0 {
		return nil, errors.New("VISUM_MAX_CONCURRENT_BATCHES must not be negative")
	}

	timeoutSeconds := getEnvAsInt("VISUM_TIMEOUT_SECONDS", 30)
	if timeoutSeconds <= 0 {
		return nil, errors.New("VISUM_TIMEOUT_SECONDS must be a positive integer")
	}

	cfg := &Config{
		BaseURL:      getEnv("VISUM_BASE_URL", visum.DefaultBaseURL),
		APIKey:       apiKey,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		LogLevel:     getEnv("VISUM_LOG_LEVEL", "info"),

		MaxBatchSize:         maxBatchSize,
		MaxConcurrentBatches: maxConcurrentBatches,
		TimeoutSeconds:       timeoutSeconds,
	}

	return cfg, nil
}
