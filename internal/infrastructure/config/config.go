package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all host configuration.
type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Sandbox   SandboxConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP control server configuration.
type ServerConfig struct {
	Port    string `envconfig:"PORT" toml:"port" default:"8700"`
	Host    string `envconfig:"HOST" toml:"host" default:"0.0.0.0"`
	Enabled bool   `envconfig:"SERVER_ENABLED" toml:"enabled" default:"true"`
}

// EngineConfig holds scheduler configuration.
type EngineConfig struct {
	UpdateRate      float64       `envconfig:"UPDATE_RATE" toml:"update_rate" default:"30"`
	RenderRate      float64       `envconfig:"RENDER_RATE" toml:"render_rate" default:"30"`
	TimerResolution time.Duration `envconfig:"TIMER_RESOLUTION" toml:"timer_resolution" default:"2ms"`
	DebugHooks      bool          `envconfig:"DEBUG_HOOKS" toml:"debug_hooks" default:"false"`
	Strategy        string        `envconfig:"ENGINE_STRATEGY" toml:"strategy" default:"timer"`
}

// SandboxConfig holds script sandbox configuration.
type SandboxConfig struct {
	VirtualRoot   string   `envconfig:"VIRTUAL_ROOT" toml:"virtual_root" default:""`
	SearchPaths   []string `envconfig:"SEARCH_PATHS" toml:"search_paths"`
	CartDirectory string   `envconfig:"CART_DIR" toml:"cart_directory" default:"./carts"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" toml:"level" default:"info"`
	Development bool   `envconfig:"LOG_DEV" toml:"development" default:"false"`
}

// RateLimitConfig holds control API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" toml:"requests_per_second" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" toml:"burst" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" toml:"enabled" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from the environment, then overlays a TOML
// file. Values set in the file win over environment and defaults.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
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
			Port:    "8700",
			Host:    "0.0.0.0",
			Enabled: true,
		},
		Engine: EngineConfig{
			UpdateRate:      30,
			RenderRate:      30,
			TimerResolution: 2 * time.Millisecond,
			Strategy:        "timer",
		},
		Sandbox: SandboxConfig{
			CartDirectory: "./carts",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
