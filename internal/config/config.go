// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	BackendURL     string
	SessionTTL     time.Duration
	ChatTimeout    time.Duration
	ExecuteTimeout time.Duration
	RateLimit      RateLimitConfig
	Archive        ArchiveConfig
}

// RateLimitConfig controls prompt-send throttling per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ArchiveConfig controls the SQLite transcript archive.
type ArchiveConfig struct {
	Enabled bool
	DBPath  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		BackendURL:     getEnv("BACKEND_URL", ""),
		SessionTTL:     getEnvDuration("SESSION_TTL", 60*time.Minute),
		ChatTimeout:    getEnvDuration("CHAT_TIMEOUT", 60*time.Second),
		ExecuteTimeout: getEnvDuration("EXECUTE_TIMEOUT", 30*time.Second),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Archive: ArchiveConfig{
			Enabled: getEnvBool("ARCHIVE_ENABLED", true),
			DBPath:  getEnv("ARCHIVE_DB_PATH", "./data/fxagent.db"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.BackendURL); err != nil {
		return fmt.Errorf("BACKEND_URL is not a valid URL: %w", err)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.ChatTimeout <= 0 {
		return fmt.Errorf("CHAT_TIMEOUT must be > 0")
	}
	if c.ExecuteTimeout <= 0 {
		return fmt.Errorf("EXECUTE_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Archive.Enabled && c.Archive.DBPath == "" {
		return fmt.Errorf("ARCHIVE_DB_PATH cannot be empty when the archive is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
