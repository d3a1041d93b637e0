package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/realty-collector/internal/shell/secrets"
	"github.com/artpar/realty-collector/internal/shell/store"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration. DSN wins over the discrete
// Postgres fields.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// ConnString returns the DSN passed to the driver.
func (c DatabaseConfig) ConnString() string {
	if c.DSN != "" || c.Driver != store.DriverPostgres {
		return c.DSN
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host,
		Path:   "/" + c.Name,
	}
	if c.Port != 0 {
		u.Host = c.Host + ":" + strconv.Itoa(c.Port)
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ScraperConfig holds the ScraperAPI client and collector settings.
type ScraperConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	DirectoryURL      string        `mapstructure:"directory_url"`
	MaxWorkers        int           `mapstructure:"max_workers"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RetryMax          int           `mapstructure:"retry_max"`
	RetryWait         time.Duration `mapstructure:"retry_wait"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DiscoveryAttempts int           `mapstructure:"discovery_attempts"`
	DiscoveryDelay    time.Duration `mapstructure:"discovery_delay"`
	PageAttempts      int           `mapstructure:"page_attempts"`
	PageDelay         time.Duration `mapstructure:"page_delay"`
}

// JobsConfig holds job persistence and reaping settings.
type JobsConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// SecretsConfig holds Secret Manager settings.
type SecretsConfig struct {
	// Project qualifies short sm://<secret> references.
	Project string `mapstructure:"project"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30m") // scrape requests wait for the job
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", store.DriverSQLite)
	v.SetDefault("database.dsn", "./data/collector.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.sslmode", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("scraper.api_key", "")
	v.SetDefault("scraper.base_url", "https://api.scraperapi.com")
	v.SetDefault("scraper.directory_url", "https://www.zillow.com")
	v.SetDefault("scraper.max_workers", 10)
	v.SetDefault("scraper.requests_per_second", 5)
	v.SetDefault("scraper.burst", 5)
	v.SetDefault("scraper.retry_max", 3)
	v.SetDefault("scraper.retry_wait", "2s")
	v.SetDefault("scraper.timeout", "70s")
	v.SetDefault("scraper.discovery_attempts", 3)
	v.SetDefault("scraper.discovery_delay", "5s")
	v.SetDefault("scraper.page_attempts", 3)
	v.SetDefault("scraper.page_delay", "2s")

	v.SetDefault("jobs.batch_size", store.DefaultBatchSize)
	v.SetDefault("jobs.stale_after", "2h")
	v.SetDefault("jobs.reap_interval", "5m")

	v.SetDefault("secrets.project", "")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case store.DriverPostgres:
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for driver %s", c.Database.Driver)
		}
	case store.DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be %s or %s, got %q", store.DriverPostgres, store.DriverSQLite, c.Database.Driver)
	}
	if c.Scraper.APIKey == "" {
		return fmt.Errorf("scraper.api_key is required")
	}
	return nil
}

// =============================================================================
// Secrets
// =============================================================================

// secretFields returns the settings that may hold sm:// references.
func (c *Config) secretFields() []*string {
	return []*string{
		&c.Scraper.APIKey,
		&c.Database.DSN,
		&c.Database.Host,
		&c.Database.User,
		&c.Database.Password,
		&c.Database.Name,
	}
}

// NeedsSecrets reports whether any setting references Secret Manager.
func (c *Config) NeedsSecrets() bool {
	for _, f := range c.secretFields() {
		if secrets.IsReference(*f) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces sm:// references with their secret values.
func (c *Config) ResolveSecrets(ctx context.Context, accessor secrets.Accessor) error {
	r := secrets.NewResolver(accessor, c.Secrets.Project)
	if err := r.ResolveAll(ctx, c.secretFields()...); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
