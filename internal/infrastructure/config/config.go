package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Feed      FeedConfig
	Store     StoreConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// FeedConfig holds synthetic pagination settings. All zero disables synthetic
// pagination.
type FeedConfig struct {
	InitialPageSize int64 `envconfig:"FEED_INITIAL_PAGE_SIZE" default:"0"`
	PageSize        int64 `envconfig:"FEED_PAGE_SIZE" default:"0"`
	MinPageSize     int64 `envconfig:"FEED_MIN_PAGE_SIZE" default:"0"`
}

// ValueOrDefault implements feed.Configuration. Zero values fall back to def.
func (c FeedConfig) ValueOrDefault(key feed.ConfigKey, def int64) int64 {
	var v int64
	switch key {
	case feed.ConfigInitialNonCachedPageSize:
		v = c.InitialPageSize
	case feed.ConfigNonCachedPageSize:
		v = c.PageSize
	case feed.ConfigNonCachedMinPageSize:
		v = c.MinPageSize
	}
	if v == 0 {
		return def
	}
	return v
}

// StoreConfig selects and configures the content store.
type StoreConfig struct {
	Backend  string `envconfig:"STORE_BACKEND" default:"memory"` // "memory" or "redis"
	RedisURL string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	Prefix   string `envconfig:"STORE_PREFIX" default:"feed"`
	Fixtures string `envconfig:"FIXTURES" default:""` // doublestar glob
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Feed.InitialPageSize < 0 || c.Feed.PageSize < 0 || c.Feed.MinPageSize < 0 {
		return fmt.Errorf("page sizes must not be negative")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Store: StoreConfig{
			Backend:  "memory",
			RedisURL: "redis://localhost:6379/0",
			Prefix:   "feed",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
