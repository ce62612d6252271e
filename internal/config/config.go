// ABOUTME: Configuration loading and parsing for huddle-gateway
// ABOUTME: Supports YAML or TOML files with env var expansion, HUDDLE_* overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength mirrors the verifier's minimum HS256 key size.
const MinJWTSecretLength = 32

// Config represents the complete huddle-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Bus        BusConfig        `yaml:"bus" toml:"bus"`
	WebSocket  WebSocketConfig  `yaml:"websocket" toml:"websocket"`
	Dedupe     DedupeConfig     `yaml:"dedupe" toml:"dedupe"`
	Projection ProjectionConfig `yaml:"projection" toml:"projection"`
	Users      UsersConfig      `yaml:"users" toml:"users"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path        string        `yaml:"path" toml:"path"`
	BusyTimeout time.Duration `yaml:"-" toml:"-"`

	BusyTimeoutRaw string `yaml:"busy_timeout" toml:"busy_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// BusConfig sizes the event bus
type BusConfig struct {
	BufferSize int `yaml:"buffer_size" toml:"buffer_size"`
}

// WebSocketConfig holds live subscription socket tuning
type WebSocketConfig struct {
	PingPeriod      time.Duration `yaml:"-" toml:"-"`
	PongWait        time.Duration `yaml:"-" toml:"-"`
	WriteWait       time.Duration `yaml:"-" toml:"-"`
	SendQueue       int           `yaml:"send_queue" toml:"send_queue"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" toml:"max_message_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins" toml:"allowed_origins"`

	PingPeriodRaw string `yaml:"ping_period" toml:"ping_period"`
	PongWaitRaw   string `yaml:"pong_wait" toml:"pong_wait"`
	WriteWaitRaw  string `yaml:"write_wait" toml:"write_wait"`
}

// DedupeConfig holds the idempotent send window
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// ProjectionConfig controls read-time shaping
type ProjectionConfig struct {
	RenderMarkdown bool `yaml:"render_markdown" toml:"render_markdown"`
}

// UsersConfig holds user search settings
type UsersConfig struct {
	SearchLimit int `yaml:"search_limit" toml:"search_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// envOverrides are read from HUDDLE_* variables after the file is parsed.
type envOverrides struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR"`
	DBPath    string `envconfig:"DB_PATH"`
	JWTSecret string `envconfig:"JWT_SECRET"`
	LogLevel  string `envconfig:"LOG_LEVEL"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, HUDDLE_*
// overrides are applied, and duration strings are parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("huddle", &env); err != nil {
		return err
	}
	if env.HTTPAddr != "" {
		cfg.Server.HTTPAddr = env.HTTPAddr
	}
	if env.DBPath != "" {
		cfg.Database.Path = env.DBPath
	}
	if env.JWTSecret != "" {
		cfg.Auth.JWTSecret = env.JWTSecret
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	return nil
}

// applyDefaults fills every zero value that has a sensible default.
func applyDefaults(cfg *Config) {
	setDuration(&cfg.Server.ShutdownTimeout, 10*time.Second)
	setDuration(&cfg.Database.BusyTimeout, 5*time.Second)
	setDuration(&cfg.Auth.TokenTTL, 24*time.Hour)
	setDuration(&cfg.WebSocket.PongWait, 60*time.Second)
	setDuration(&cfg.WebSocket.PingPeriod, cfg.WebSocket.PongWait*9/10)
	setDuration(&cfg.WebSocket.WriteWait, 10*time.Second)
	setDuration(&cfg.Dedupe.TTL, 10*time.Minute)

	setInt(&cfg.Bus.BufferSize, 64)
	setInt(&cfg.WebSocket.SendQueue, 128)
	setInt(&cfg.Dedupe.MaxEntries, 10000)
	setInt(&cfg.Users.SearchLimit, 20)
	if cfg.WebSocket.MaxMessageBytes == 0 {
		cfg.WebSocket.MaxMessageBytes = 64 << 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setInt(n *int, def int) {
	if *n == 0 {
		*n = def
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_period (%s) must be shorter than websocket.pong_wait (%s)",
			c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Bus.BufferSize < 0 || c.WebSocket.SendQueue < 0 || c.Dedupe.MaxEntries < 0 {
		return fmt.Errorf("buffer sizes must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"database.busy_timeout", cfg.Database.BusyTimeoutRaw, &cfg.Database.BusyTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"websocket.ping_period", cfg.WebSocket.PingPeriodRaw, &cfg.WebSocket.PingPeriod},
		{"websocket.pong_wait", cfg.WebSocket.PongWaitRaw, &cfg.WebSocket.PongWait},
		{"websocket.write_wait", cfg.WebSocket.WriteWaitRaw, &cfg.WebSocket.WriteWait},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
