// Package config loads application configuration from environment
// variables with fail-fast validation at startup.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// OpenAI configuration
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// Starknet configuration
	StarknetRPCURL  string
	WalletSignerURL string

	// Typhoon configuration
	TyphoonAPIURL string

	// Swap configuration
	AVNUBaseURL string

	// NATS configuration
	NATSURL string

	// Database configuration. Optional: without it the audit store is
	// disabled and conversations are memory-only.
	DatabaseURL string

	// Chat configuration
	ChatTimeout time.Duration
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error listing every missing or invalid field.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.OpenAIAPIKey == "" {
		errs = append(errs, fmt.Errorf("OPENAI_API_KEY is required"))
	}
	cfg.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAIBaseURL = getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")

	cfg.StarknetRPCURL = os.Getenv("STARKNET_RPC_URL")
	if cfg.StarknetRPCURL == "" {
		errs = append(errs, fmt.Errorf("STARKNET_RPC_URL is required"))
	}

	cfg.WalletSignerURL = os.Getenv("WALLET_SIGNER_URL")
	if cfg.WalletSignerURL == "" {
		errs = append(errs, fmt.Errorf("WALLET_SIGNER_URL is required"))
	}

	cfg.TyphoonAPIURL = os.Getenv("TYPHOON_API_URL")
	if cfg.TyphoonAPIURL == "" {
		errs = append(errs, fmt.Errorf("TYPHOON_API_URL is required"))
	}

	cfg.AVNUBaseURL = getEnvOrDefault("AVNU_BASE_URL", "https://starknet.api.avnu.fi")
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	chatTimeout, err := parseDuration("CHAT_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ChatTimeout = chatTimeout
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.OpenAIAPIKey == "" {
		errs = append(errs, fmt.Errorf("OpenAIAPIKey is required"))
	}
	if c.StarknetRPCURL == "" {
		errs = append(errs, fmt.Errorf("StarknetRPCURL is required"))
	}
	if c.WalletSignerURL == "" {
		errs = append(errs, fmt.Errorf("WalletSignerURL is required"))
	}
	if c.TyphoonAPIURL == "" {
		errs = append(errs, fmt.Errorf("TyphoonAPIURL is required"))
	}
	if c.ChatTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ChatTimeout must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}
