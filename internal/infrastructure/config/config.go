package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all engine configuration.
type Config struct {
	API        APIConfig
	Storage    StorageConfig
	Filter     FilterConfig
	Navigation NavigationConfig
	Session    SessionConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
}

// APIConfig holds the local control API configuration.
type APIConfig struct {
	Port string `envconfig:"API_PORT" default:"4780"`
	Host string `envconfig:"API_HOST" default:"127.0.0.1"`
}

// StorageConfig holds the record store configuration.
type StorageConfig struct {
	Path string `envconfig:"DB_PATH" default:"sitedock.db"`
}

// FilterConfig holds block-list fetching and compilation configuration.
type FilterConfig struct {
	ListURL         string        `envconfig:"FILTER_LIST_URL" default:"https://easylist.to/easylist/easylist.txt"`
	RefreshInterval time.Duration `envconfig:"FILTER_REFRESH_INTERVAL" default:"12h"`
	MaxRegexRules   int           `envconfig:"FILTER_MAX_REGEX_RULES" default:"50"`
	RuleCeiling     int           `envconfig:"FILTER_RULE_CEILING" default:"50000"`
}

// NavigationConfig holds policy engine configuration.
type NavigationConfig struct {
	// SSOHeuristicsPath points to an optional YAML file overriding the
	// compiled-in SSO endpoint heuristics.
	SSOHeuristicsPath string `envconfig:"SSO_HEURISTICS_PATH" default:""`
	ChainCapacity     int    `envconfig:"NAV_CHAIN_CAPACITY" default:"32"`
}

// SessionConfig holds tab session manager configuration.
type SessionConfig struct {
	PersistDebounce    time.Duration `envconfig:"SESSION_PERSIST_DEBOUNCE" default:"2s"`
	UnreadPollInterval time.Duration `envconfig:"UNREAD_POLL_INTERVAL" default:"15s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds control API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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

// Default returns default configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Port: "4780",
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			Path: "sitedock.db",
		},
		Filter: FilterConfig{
			ListURL:         "https://easylist.to/easylist/easylist.txt",
			RefreshInterval: 12 * time.Hour,
			MaxRegexRules:   50,
			RuleCeiling:     50000,
		},
		Navigation: NavigationConfig{
			SSOHeuristicsPath: "",
			ChainCapacity:     32,
		},
		Session: SessionConfig{
			PersistDebounce:    2 * time.Second,
			UnreadPollInterval: 15 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
