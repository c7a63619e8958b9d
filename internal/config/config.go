// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	FrontendURL string        `env:"FRONTEND_URL"`
	DBPath      string        `env:"DB_PATH" envDefault:"./data/truthguard.db"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"60m"`
	Chat        ChatConfig
	RateLimit   RateLimitConfig
	Timeout     TimeoutConfig
}

// ChatConfig controls the delivery tiers and the fallback responder.
type ChatConfig struct {
	PrimaryURL       string        `env:"PRIMARY_CHAT_URL" envDefault:"http://localhost:5000/api/chat"`
	SecondaryURL     string        `env:"SECONDARY_CHAT_URL" envDefault:"http://localhost:5000/api/chat/simple"`
	RequestTimeout   time.Duration `env:"CHAT_REQUEST_TIMEOUT" envDefault:"30s"`
	AIAvailable      bool          `env:"AI_AVAILABLE" envDefault:"false"`
	AIModel          string        `env:"AI_MODEL" envDefault:"gemini-1.5-flash"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH" envDefault:"1000"`
}

// RateLimitConfig bounds chat sends per anonymous user.
type RateLimitConfig struct {
	RequestsPerWindow int           `env:"RATE_LIMIT_REQUESTS" envDefault:"20"`
	WindowDuration    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// TimeoutConfig holds server-side timeouts.
type TimeoutConfig struct {
	HealthCheck        time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"5s"`
	SweepInterval      time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`
	Shutdown           time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxRequestBodySize int64         `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Chat.PrimaryURL == "" {
		return fmt.Errorf("PRIMARY_CHAT_URL cannot be empty")
	}
	if c.Chat.SecondaryURL == "" {
		return fmt.Errorf("SECONDARY_CHAT_URL cannot be empty")
	}
	if c.Chat.RequestTimeout <= 0 {
		return fmt.Errorf("CHAT_REQUEST_TIMEOUT must be > 0")
	}
	if c.Chat.MaxMessageLength < 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be >= 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Timeout.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Timeout.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ModelLabel returns the model name shown to users, or "" when the AI
// backend is not available.
func (c *Config) ModelLabel() string {
	if !c.Chat.AIAvailable {
		return ""
	}
	return c.Chat.AIModel
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
