// Package config provides configuration for the MCP bridge server.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	Port int

	// Upstream Perplexity API settings
	APIKey          string
	UpstreamBaseURL string
	UpstreamTimeout time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// ErrMissingAPIKey is returned when the required upstream credential is absent.
var ErrMissingAPIKey = errors.New("PERPLEXITY_API_KEY environment variable is required")

// Load loads configuration from environment variables. It fails when the
// required upstream API key is not set.
func Load() (*Config, error) {
	apiKey := os.Getenv("PERPLEXITY_API_KEY")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	cfg := &Config{
		Port:            getEnvInt("PORT", 3000),
		APIKey:          apiKey,
		UpstreamBaseURL: getEnv("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"),
		UpstreamTimeout: time.Duration(getEnvInt("UPSTREAM_TIMEOUT_MS", 300000)) * time.Millisecond,
		PingInterval:    time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:    time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:     time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
