package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the ingestion service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	GitHub    GitHubConfig    `yaml:"github"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Collector CollectorConfig `yaml:"collector"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig contains authentication settings
// An empty key list disables authentication
type AuthConfig struct {
	APIKeys []APIKey `yaml:"api_keys"`
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// GitHubConfig contains GitHub Actions connection settings
type GitHubConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Owner   string        `yaml:"owner"`
	Repo    string        `yaml:"repo"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects the SQL backend
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres or sqlite3
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// StorageConfig contains durable file storage and staging settings
type StorageConfig struct {
	Backend        string      `yaml:"backend"` // local or minio
	ScreenshotsDir string      `yaml:"screenshots_dir"`
	FilesDir       string      `yaml:"files_dir"`
	TempDir        string      `yaml:"temp_dir"`
	InlineMaxBytes int64       `yaml:"inline_max_bytes"`
	URLPrefix      string      `yaml:"url_prefix"`
	Minio          MinioConfig `yaml:"minio"`
}

// MinioConfig contains S3-compatible object storage settings
type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	PathPrefix string `yaml:"path_prefix"`
}

// CollectorConfig contains scheduling settings
type CollectorConfig struct {
	Enabled           *bool         `yaml:"enabled"`
	Interval          time.Duration `yaml:"interval"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	RunsPerPage       int           `yaml:"runs_per_page"`
	MaxPages          int           `yaml:"max_pages"`
}

// IsEnabled reports whether the periodic collector should run; defaults to true
func (c CollectorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json or text
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads and parses the configuration file. An empty path builds the
// configuration from environment variables and defaults only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		// Expand environment variables in the config
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}

// applyEnv overrides file values with deployment environment variables
func (c *Config) applyEnv() error {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("GITHUB_OWNER"); v != "" {
		c.GitHub.Owner = v
	}
	if v := os.Getenv("GITHUB_REPO"); v != "" {
		c.GitHub.Repo = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("POLL_INTERVAL_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return fmt.Errorf("invalid POLL_INTERVAL_MINUTES %q", v)
		}
		c.Collector.Interval = time.Duration(minutes) * time.Minute
	}
	if v := os.Getenv("SCREENSHOT_STORAGE_PATH"); v != "" {
		c.Storage.ScreenshotsDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q", v)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.GitHub.BaseURL == "" {
		c.GitHub.BaseURL = "https://api.github.com"
	}
	if c.GitHub.Timeout == 0 {
		c.GitHub.Timeout = 30 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = "file:./data/ingest.db"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.ScreenshotsDir == "" {
		c.Storage.ScreenshotsDir = "./data/screenshots"
	}
	if c.Storage.FilesDir == "" {
		c.Storage.FilesDir = "./data/files"
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "./temp"
	}
	if c.Storage.InlineMaxBytes == 0 {
		c.Storage.InlineMaxBytes = 1 << 20
	}
	if c.Storage.URLPrefix == "" {
		c.Storage.URLPrefix = "/api/files/"
	}
	if c.Collector.Interval == 0 {
		c.Collector.Interval = 5 * time.Minute
	}
	if c.Collector.MaxConcurrentRuns == 0 {
		c.Collector.MaxConcurrentRuns = 4
	}
	if c.Collector.RunsPerPage == 0 {
		c.Collector.RunsPerPage = 50
	}
	if c.Collector.MaxPages == 0 {
		c.Collector.MaxPages = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("github.token is required")
	}
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		return fmt.Errorf("github.owner and github.repo are required")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	case "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.Storage.Backend {
	case "local":
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}

	if c.Storage.InlineMaxBytes < 0 {
		return fmt.Errorf("storage.inline_max_bytes must not be negative")
	}
	if c.Collector.Interval < time.Second {
		return fmt.Errorf("collector.interval must be at least 1s")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
