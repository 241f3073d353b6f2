// Package config loads agent configuration from environment variables
// and an optional YAML file. Environment variables (XT_ prefix) take
// precedence over file values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete agent configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains the local HTTP API server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8090"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8090"`
}

// LicenseConfig contains license validation configuration.
// RequireOnline is the no-offline-trust policy boundary: when true
// (the default, and the shipped product policy) a license can never be
// validated without reaching the license server.
type LicenseConfig struct {
	ServerURL       string          `yaml:"server_url" envconfig:"SERVER_URL" default:"http://77.90.51.74:3000"`
	HealthTimeout   time.Duration   `yaml:"health_timeout" envconfig:"HEALTH_TIMEOUT" default:"10s"`
	ValidateTimeout time.Duration   `yaml:"validate_timeout" envconfig:"VALIDATE_TIMEOUT" default:"15s"`
	RequireOnline   bool            `yaml:"require_online" envconfig:"REQUIRE_ONLINE" default:"true"`
	StoreFile       string          `yaml:"store_file" envconfig:"STORE_FILE" default:"license.dat"`
	PublicKeyFile   string          `yaml:"public_key_file" envconfig:"PUBLIC_KEY_FILE"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig bounds activation attempts per source
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"0.2"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"5"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/xtcli.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// TelemetryConfig controls metric and trace export
type TelemetryConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics" envconfig:"ENABLE_METRICS" default:"true"`
	EnableTracing bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING" default:"false"`
	TraceExporter string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"stdout"`
}

// Load loads configuration from environment variables and, if present,
// the config file next to the executable (or XT_CONFIG_FILE).
func Load() (*Config, error) {
	var cfg Config

	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment overrides file values
	if err := envconfig.Process("XT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.License.ServerURL == "" {
		return fmt.Errorf("license server URL is required")
	}
	u, err := url.Parse(c.License.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid license server URL: %q", c.License.ServerURL)
	}
	if c.License.HealthTimeout <= 0 {
		return fmt.Errorf("health timeout must be positive")
	}
	if c.License.ValidateTimeout <= 0 {
		return fmt.Errorf("validate timeout must be positive")
	}
	return nil
}

func configFilePath() string {
	if path := os.Getenv("XT_CONFIG_FILE"); path != "" {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		return "xtcli.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "xtcli.yaml")
}
