// Package config loads and validates the keywarden configuration from
// defaults, an optional YAML file and KEYWARDEN_* environment variables,
// in that order of precedence (environment wins).
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"keywarden/internal/store"
)

// envPrefix namespaces every environment variable, e.g. KEYWARDEN_SERVER_PORT.
const envPrefix = "KEYWARDEN"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Admin     AdminConfig     `yaml:"admin" envconfig:"ADMIN"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AdminConfig configures the pre-shared admin secret. Exactly one of Token
// and TokenBcrypt must be set unless auth is explicitly disabled for local
// development.
type AdminConfig struct {
	Token        string `yaml:"token" envconfig:"TOKEN"`
	TokenBcrypt  string `yaml:"token_bcrypt" envconfig:"TOKEN_BCRYPT"`
	AuthDisabled bool   `yaml:"auth_disabled" envconfig:"AUTH_DISABLED"`
}

// Enabled reports whether admin endpoints require authentication.
func (a AdminConfig) Enabled() bool {
	return !a.AuthDisabled
}

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	Path   string `yaml:"path" envconfig:"PATH"`
}

// LicenseConfig tunes lifecycle and validation policy.
type LicenseConfig struct {
	DefaultValidityDays int  `yaml:"default_validity_days" envconfig:"DEFAULT_VALIDITY_DAYS"`
	BindIP              bool `yaml:"bind_ip" envconfig:"BIND_IP"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig controls tracing and metrics.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" envconfig:"ENABLED"`
	StdoutTraces bool   `yaml:"stdout_traces" envconfig:"STDOUT_TRACES"`
	ServiceName  string `yaml:"service_name" envconfig:"SERVICE_NAME"`
}

// Load builds the configuration: defaults, then the config file when one is
// found, then environment variables.
func Load() (*Config, error) {
	return LoadFromFile(configFilePath())
}

// LoadFromFile is Load with an explicit config file path. An empty path
// skips the file layer.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks the configuration and normalizes the forgiving fields.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	switch c.Store.Driver {
	case store.DriverBolt, store.DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the %s driver", c.Store.Driver)
		}
	case store.DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.License.DefaultValidityDays <= 0 {
		return fmt.Errorf("default validity days must be positive")
	}

	if c.Admin.Enabled() {
		if c.Admin.Token == "" && c.Admin.TokenBcrypt == "" {
			return fmt.Errorf("admin token (or token_bcrypt) is required; set admin.auth_disabled only for local development")
		}
		if c.Admin.Token != "" && c.Admin.TokenBcrypt != "" {
			return fmt.Errorf("set either admin token or token_bcrypt, not both")
		}
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate limit rps must be positive")
		}
		if c.Security.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		c.Logging.Format = "json"
	}
	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		c.Logging.Output = "stdout"
	}
	if c.Logging.Output != "stdout" && c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/keywarden.log"
	}

	return nil
}

// configFilePath returns the first config file found, honoring the
// KEYWARDEN_CONFIG override.
func configFilePath() string {
	if path := os.Getenv(envPrefix + "_CONFIG"); path != "" {
		return path
	}

	locations := []string{
		"keywarden.yaml",
		"config.yaml",
		"configs/keywarden.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
		},
		Admin: AdminConfig{},
		Store: StoreConfig{
			Driver: store.DriverBolt,
			Path:   "data/keywarden.db",
		},
		License: LicenseConfig{
			DefaultValidityDays: 30,
			BindIP:              true,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/keywarden.log",
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "keywarden",
		},
	}
}
