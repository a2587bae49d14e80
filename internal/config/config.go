package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config 服务配置
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Database     DatabaseConfig     `toml:"database"`
	Harness      HarnessConfig      `toml:"harness"`
	Log          LogConfig          `toml:"log"`
	Metrics      MetricsConfig      `toml:"metrics"`
	CallbackAuth CallbackAuthConfig `toml:"callback_auth"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig selects and addresses the record store.
type DatabaseConfig struct {
	Type     string `toml:"type"` // sqlite, postgres, dynamodb
	DSN      string `toml:"dsn"`  // sqlite file or postgres connection string
	Table    string `toml:"table"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"` // DynamoDB Local and similar
}

// HarnessConfig 测试配置
type HarnessConfig struct {
	// WebhookURL is where targets send their asynchronous callbacks.
	WebhookURL          string `toml:"webhook_url"`
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds"`
	RecentRunsLimit     int    `toml:"recent_runs_limit"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// CallbackAuthConfig guards the harness's own token endpoint and webhook.
type CallbackAuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	SigningKey   string `toml:"signing_key"`
	RequireToken bool   `toml:"require_token"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig 加载配置文件. A missing file yields the defaults; environment
// overrides are applied either way.
func LoadConfig(path string) (*Config, error) {
	config := Config{Metrics: MetricsConfig{Enabled: true}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PACT_WEBHOOK_URL"); v != "" {
		c.Harness.WebhookURL = v
	}
	if v := os.Getenv("PACT_DATABASE_TYPE"); v != "" {
		c.Database.Type = v
	}
	if v := os.Getenv("PACT_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Type == "sqlite" {
		c.Database.DSN = "./data/pact_conformance.db"
	}
	if c.Database.Table == "" {
		c.Database.Table = "pact-conformance-test-runs"
	}
	if c.Database.Region == "" {
		c.Database.Region = "eu-central-1"
	}
	if c.Harness.WebhookURL == "" {
		c.Harness.WebhookURL = fmt.Sprintf("http://localhost:%d/testHarness", c.Server.Port)
	}
	if c.Harness.ProbeTimeoutSeconds <= 0 {
		c.Harness.ProbeTimeoutSeconds = 30
	}
	if c.Harness.RecentRunsLimit <= 0 {
		c.Harness.RecentRunsLimit = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.CallbackAuth.ClientID == "" {
		c.CallbackAuth.ClientID = "test_client_id"
	}
	if c.CallbackAuth.ClientSecret == "" {
		c.CallbackAuth.ClientSecret = "test_client_secret"
	}
	if c.CallbackAuth.SigningKey == "" {
		c.CallbackAuth.SigningKey = "default_secret"
	}
}

// GetAddr 获取服务器监听地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProbeTimeout is the per-request ceiling of the probe client.
func (c *HarnessConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// NewLogger builds the process logger from the log section.
func (c *LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
