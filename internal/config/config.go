package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL     string
	WSBaseURL      string
	DBFile         string
	RequestTimeout time.Duration
	ReconnectDelay time.Duration
	TypingExpiry   time.Duration
	TypingDebounce time.Duration
	PageSize       int
}

func Load() (*Config, error) {
	// Optional .env file, real environment wins.
	_ = godotenv.Load()

	requestTimeout, err := time.ParseDuration(getEnv("GIGLINK_REQUEST_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("GIGLINK_REQUEST_TIMEOUT: %w", err)
	}
	reconnectDelay, err := time.ParseDuration(getEnv("GIGLINK_RECONNECT_DELAY", "5s"))
	if err != nil {
		return nil, fmt.Errorf("GIGLINK_RECONNECT_DELAY: %w", err)
	}
	pageSize, err := strconv.Atoi(getEnv("GIGLINK_PAGE_SIZE", "50"))
	if err != nil {
		return nil, fmt.Errorf("GIGLINK_PAGE_SIZE: %w", err)
	}

	cfg := &Config{
		APIBaseURL:     getEnv("GIGLINK_API_URL", "http://localhost:8080/api"),
		WSBaseURL:      getEnv("GIGLINK_WS_URL", "ws://localhost:8080/ws"),
		DBFile:         getEnv("GIGLINK_DB", "giglink.db"),
		RequestTimeout: requestTimeout,
		ReconnectDelay: reconnectDelay,
		TypingExpiry:   2 * time.Second,
		TypingDebounce: 1500 * time.Millisecond,
		PageSize:       pageSize,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("GIGLINK_API_URL is required")
	}
	if c.WSBaseURL == "" {
		return fmt.Errorf("GIGLINK_WS_URL is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("GIGLINK_REQUEST_TIMEOUT must be greater than 0")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("GIGLINK_RECONNECT_DELAY must be greater than 0")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("GIGLINK_PAGE_SIZE must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
