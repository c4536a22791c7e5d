package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	// LLM provider
	AnthropicAPIKey string  `env:"ANTHROPIC_API_KEY"`
	LLMBaseURL      string  `env:"LLM_BASE_URL" envDefault:"https://api.anthropic.com"`
	LLMModel        string  `env:"LLM_MODEL" envDefault:"claude-3-7-sonnet-20250219"`
	LLMMaxTokens    int     `env:"LLM_MAX_TOKENS" envDefault:"4000"`
	LLMTemperature  float64 `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	LLMStartupCheck bool    `env:"LLM_STARTUP_CHECK" envDefault:"true"`

	// Filesystem layout
	ProjectsDir   string `env:"PROJECTS_DIR" envDefault:"projects"`
	PreviewsDir   string `env:"PREVIEWS_DIR" envDefault:"temp_previews"`
	WatchProjects bool   `env:"WATCH_PROJECTS" envDefault:"true"`

	// Fallback channel document store: memory, redis, postgres or sqlite
	DocumentStore string        `env:"DOCUMENT_STORE" envDefault:"memory"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	RedisURL      string        `env:"REDIS_URL"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"./data/rzx.db"`
	HistoryTTL    time.Duration `env:"HISTORY_TTL" envDefault:"24h"`

	// Command execution
	CommandPolicyFile string        `env:"COMMAND_POLICY_FILE"`
	CommandTimeout    time.Duration `env:"COMMAND_TIMEOUT" envDefault:"10s"`

	// Rate limiting
	RateLimitWhitelist []string `env:"RATE_LIMIT_WHITELIST" envSeparator:","` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `env:"AUTO_BLOCK_ENABLED" envDefault:"false"`
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	whitelist := cfg.RateLimitWhitelist[:0]
	for _, entry := range cfg.RateLimitWhitelist {
		if entry = strings.TrimSpace(entry); entry != "" {
			whitelist = append(whitelist, entry)
		}
	}
	cfg.RateLimitWhitelist = whitelist

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DocumentStore {
	case "memory", "sqlite":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when DOCUMENT_STORE=redis")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when DOCUMENT_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown DOCUMENT_STORE %q", c.DocumentStore)
	}

	// In production, the provider key is mandatory
	if c.Env == "production" && c.AnthropicAPIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
