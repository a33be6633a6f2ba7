// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all client configuration.
type Config struct {
	BackendURL     string
	Plan           string // subscription plan hint sent with stream requests
	UserID         string // authenticated user id; empty = anonymous session
	DBPath         string
	RequestTimeout time.Duration
	Journal        JournalConfig
}

// JournalConfig controls the NDJSON reconciliation journal for messages
// that failed to persist.
type JournalConfig struct {
	Enabled   bool
	Path      string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("JOURNAL_QUEUE_SIZE", 256)
	if queueSize <= 0 {
		queueSize = 256
	}

	cfg := &Config{
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8080"),
		Plan:           getEnv("PLAN", "free"),
		UserID:         getEnv("USER_ID", ""),
		DBPath:         getEnv("DB_PATH", "./data/prepdeck.db"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		Journal: JournalConfig{
			Enabled:   getEnvBool("JOURNAL_ENABLED", true),
			Path:      getEnv("JOURNAL_PATH", "./data/unsynced.ndjson"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("JOURNAL_PATH cannot be empty when journaling is enabled")
	}
	if c.Journal.QueueSize <= 0 {
		return fmt.Errorf("JOURNAL_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if the client points at a local backend.
func (c *Config) IsDevelopment() bool {
	return strings.Contains(c.BackendURL, "localhost") ||
		strings.Contains(c.BackendURL, "127.0.0.1")
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
