// Package common provides shared utilities for the execution core:
// logging, configuration, versioning, and a startup banner.
package common

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the execution core.
type Config struct {
	Environment string        `toml:"environment"`
	Workspace   string        `toml:"workspace"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Queue       QueueConfig   `toml:"queue"`
	LLM         LLMProviders  `toml:"llm"`
	Worker      WorkerConfig  `toml:"worker"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects and configures the execution-store backend.
type StorageConfig struct {
	// DatabaseURL selects the relational backend when it starts with
	// "postgresql://" or "postgres://"; otherwise the embedded backend is used.
	DatabaseURL string     `toml:"database_url"`
	Embedded    AreaConfig `toml:"embedded"` // badgerhold path, dev/embedded backend
	Blobs       AreaConfig `toml:"blobs"`    // outputs/bundles + outputs/reports root
	Cache       AreaConfig `toml:"cache"`    // badgerhold path, per-pipeline processor cache
}

// AreaConfig holds a single filesystem path.
type AreaConfig struct {
	Path string `toml:"path"`
}

// UsesRelationalStore reports whether DatabaseURL selects the Postgres backend.
func (c StorageConfig) UsesRelationalStore() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgresql://") || strings.HasPrefix(c.DatabaseURL, "postgres://")
}

// QueueConfig selects and configures the queue adapter backend.
type QueueConfig struct {
	RedisHost     string `toml:"redis_host"`
	RedisPort     int    `toml:"redis_port"`
	RedisPassword string `toml:"redis_password"`
	RetentionDays int    `toml:"retention_days"` // failed-tier retention in days, default 7; not read by the queue backends, which use queue.FailedRetention
}

// UsesRedis reports whether REDIS_HOST selects the Redis backend.
func (c QueueConfig) UsesRedis() bool {
	return c.RedisHost != ""
}

// RetentionDaysOrDefault returns the configured retention, defaulting to 7.
func (c QueueConfig) RetentionDaysOrDefault() int {
	if c.RetentionDays <= 0 {
		return 7
	}
	return c.RetentionDays
}

// LLMProviders holds static per-provider configuration. Only APIKey is
// read (as the fallback key when building providers and checking keys);
// Model and Timeout are not applied at execution time.
type LLMProviders struct {
	OpenAI    ProviderConfig `toml:"openai"`
	Anthropic ProviderConfig `toml:"anthropic"`
	Google    ProviderConfig `toml:"google"`
}

// ProviderConfig holds one LLM provider's static configuration.
type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses Timeout, defaulting to the 120s wall-clock bound from spec.md §5.
func (c ProviderConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// WorkerConfig tunes the worker pool (C7).
type WorkerConfig struct {
	Concurrency       int    `toml:"concurrency"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	ShutdownDeadline  string `toml:"shutdown_deadline"`
}

// ConcurrencyOrDefault returns Concurrency, defaulting to 2 per spec.md §4.7.
func (c WorkerConfig) ConcurrencyOrDefault() int {
	if c.Concurrency <= 0 {
		return 2
	}
	return c.Concurrency
}

// HeartbeatIntervalOrDefault parses HeartbeatInterval, defaulting to 30s.
func (c WorkerConfig) HeartbeatIntervalOrDefault() time.Duration {
	d, err := time.ParseDuration(c.HeartbeatInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ShutdownDeadlineOrDefault parses ShutdownDeadline, defaulting to 30s.
func (c WorkerConfig) ShutdownDeadlineOrDefault() time.Duration {
	d, err := time.ParseDuration(c.ShutdownDeadline)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Workspace:   "./workspace",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Embedded: AreaConfig{Path: "./workspace/data/executions"},
			Blobs:    AreaConfig{Path: "./workspace/data/outputs"},
			Cache:    AreaConfig{Path: "./workspace/data/cache"},
		},
		Queue: QueueConfig{
			RetentionDays: 7,
		},
		LLM: LLMProviders{
			OpenAI:    ProviderConfig{Model: "gpt-4o", Timeout: "120s"},
			Anthropic: ProviderConfig{Model: "claude-sonnet-4-5", Timeout: "120s"},
			Google:    ProviderConfig{Model: "gemini-2.0-flash", Timeout: "120s"},
		},
		Worker: WorkerConfig{
			Concurrency:       2,
			HeartbeatInterval: "30s",
			ShutdownDeadline:  "30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console"},
			FilePath:   "./workspace/logs/dproc.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config,
// following the names recognized in spec.md §6.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("DPROC_WORKSPACE"); v != "" {
		config.Workspace = v
		config.Storage.Embedded.Path = filepath.Join(v, "data", "executions")
		config.Storage.Blobs.Path = filepath.Join(v, "data", "outputs")
		config.Storage.Cache.Path = filepath.Join(v, "data", "cache")
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Storage.DatabaseURL = v
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		config.Queue.RedisHost = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Queue.RedisPort = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Queue.RedisPassword = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		config.LLM.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.LLM.Anthropic.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		config.LLM.Google.APIKey = v
	}

	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if c, err := strconv.Atoi(v); err == nil {
			config.Worker.Concurrency = c
		}
	}

	if v := os.Getenv("DPROC_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("DPROC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// IsDebug reports whether DEBUG/DPROC_DEBUG requests technical detail in
// CLI output per spec.md §6.
func IsDebug() bool {
	for _, v := range []string{os.Getenv("DPROC_DEBUG"), os.Getenv("DEBUG")} {
		if v == "" {
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return false
}

// secretsFile is the JSON shape of $HOME/.dproc/secrets.json (spec.md §6).
type secretsFile struct {
	APIKeys struct {
		OpenAI    string `json:"openai,omitempty"`
		Anthropic string `json:"anthropic,omitempty"`
		Google    string `json:"google,omitempty"`
	} `json:"apiKeys"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func secretsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dproc", "secrets.json"), nil
}

// readSecret returns the API key for provider from $HOME/.dproc/secrets.json.
func readSecret(provider string) (string, error) {
	path, err := secretsPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var sf secretsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return "", err
	}
	switch provider {
	case "openai":
		return sf.APIKeys.OpenAI, nil
	case "anthropic":
		return sf.APIKeys.Anthropic, nil
	case "google":
		return sf.APIKeys.Google, nil
	default:
		return "", nil
	}
}

// WriteSecret persists an API key to $HOME/.dproc/secrets.json with
// user-readable-only permissions, used by the `configure` CLI command.
func WriteSecret(provider, apiKey string) error {
	path, err := secretsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	var sf secretsFile
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &sf)
	}
	switch provider {
	case "openai":
		sf.APIKeys.OpenAI = apiKey
	case "anthropic":
		sf.APIKeys.Anthropic = apiKey
	case "google":
		sf.APIKeys.Google = apiKey
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	sf.LastUpdated = time.Now()

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ResolveAPIKey resolves an API key following spec.md §4.3 rule 3 and §6:
// environment variable, then the secrets store, then the caller-supplied
// fallback (typically the provider's static config value).
func ResolveAPIKey(ctx context.Context, provider string, fallback string) (string, error) {
	envNames := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"google":    "GOOGLE_API_KEY",
	}
	if envVar, ok := envNames[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}

	if v, err := readSecret(provider); err == nil && v != "" {
		return v, nil
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key for provider %q not found in environment or secrets store", provider)
}
