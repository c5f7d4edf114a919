package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Sandbox   SandboxConfig
	Model     ModelConfig
	Scan      ScanConfig
	Store     StoreConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// SandboxConfig selects where inference runs. An empty URL runs the sandbox
// in-process behind a pipe.
type SandboxConfig struct {
	URL         string `envconfig:"SANDBOX_URL" default:""`
	Port        string `envconfig:"SANDBOX_PORT" default:"8001"`
	Concurrency int64  `envconfig:"SANDBOX_CONCURRENCY" default:"4"`
	TopK        int    `envconfig:"SANDBOX_TOP_K" default:"3"`
}

// ModelConfig locates the model artifact and category mapping.
type ModelConfig struct {
	Path          string        `envconfig:"MODEL_PATH" default:"./model"`
	BaseURL       string        `envconfig:"MODEL_BASE_URL" default:""`
	Categories    string        `envconfig:"CATEGORY_MAPPING" default:""`
	ScriptTimeout time.Duration `envconfig:"MODEL_SCRIPT_TIMEOUT" default:"5s"`
}

// ScanConfig tunes the scan coordinator.
type ScanConfig struct {
	Interval       time.Duration `envconfig:"SCAN_INTERVAL" default:"2s"`
	ScrollDebounce time.Duration `envconfig:"SCAN_SCROLL_DEBOUNCE" default:"300ms"`
	MinSize        int           `envconfig:"SCAN_MIN_SIZE" default:"50"`
	PendingTimeout time.Duration `envconfig:"SCAN_PENDING_TIMEOUT" default:"20s"`
	RequestTimeout time.Duration `envconfig:"SCAN_REQUEST_TIMEOUT" default:"60s"`
	Selector       string        `envconfig:"SCAN_SELECTOR" default:"img"`
	StrictOrigin   bool          `envconfig:"SCAN_STRICT_ORIGIN" default:"true"`
	FetchRPS       float64       `envconfig:"SCAN_FETCH_RPS" default:"20"`
}

// StoreConfig locates the settings and statistics database.
type StoreConfig struct {
	Path string `envconfig:"STORE_PATH" default:"imgfirewall.db"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds API rate limiting configuration.
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
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Sandbox: SandboxConfig{
			Port:        "8001",
			Concurrency: 4,
			TopK:        3,
		},
		Model: ModelConfig{
			Path:          "./model",
			ScriptTimeout: 5 * time.Second,
		},
		Scan: ScanConfig{
			Interval:       2 * time.Second,
			ScrollDebounce: 300 * time.Millisecond,
			MinSize:        50,
			PendingTimeout: 20 * time.Second,
			RequestTimeout: 60 * time.Second,
			Selector:       "img",
			StrictOrigin:   true,
			FetchRPS:       20,
		},
		Store: StoreConfig{
			Path: "imgfirewall.db",
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
