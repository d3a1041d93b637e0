package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/realty-collector/internal/shell/secrets"
	"github.com/artpar/realty-collector/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, store.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "./data/collector.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, "https://api.scraperapi.com", cfg.Scraper.BaseURL)
	assert.Equal(t, "https://www.zillow.com", cfg.Scraper.DirectoryURL)
	assert.Equal(t, 10, cfg.Scraper.MaxWorkers)
	assert.Equal(t, 70*time.Second, cfg.Scraper.Timeout)
	assert.Equal(t, 3, cfg.Scraper.DiscoveryAttempts)
	assert.Equal(t, 5*time.Second, cfg.Scraper.DiscoveryDelay)
	assert.Equal(t, 3, cfg.Scraper.PageAttempts)
	assert.Equal(t, 2*time.Second, cfg.Scraper.PageDelay)
	assert.Equal(t, store.DefaultBatchSize, cfg.Jobs.BatchSize)
	assert.Equal(t, 2*time.Hour, cfg.Jobs.StaleAfter)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.ReapInterval)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  read_timeout: 60s
  write_timeout: 10m
  shutdown_timeout: 15s

database:
  driver: pgx
  host: db.internal
  name: realty

scraper:
  api_key: "file-key"
  max_workers: 4

jobs:
  stale_after: 90m

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, store.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "realty", cfg.Database.Name)
	assert.Equal(t, "file-key", cfg.Scraper.APIKey)
	assert.Equal(t, 4, cfg.Scraper.MaxWorkers)
	assert.Equal(t, 90*time.Minute, cfg.Jobs.StaleAfter)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("COLLECTOR_SERVER_HOST", "192.168.1.1")
	t.Setenv("COLLECTOR_SERVER_PORT", "3000")
	t.Setenv("COLLECTOR_DATABASE_DSN", "/custom/path.db")
	t.Setenv("COLLECTOR_LOG_LEVEL", "warn")
	t.Setenv("COLLECTOR_SCRAPER_API_KEY", "env-key")
	t.Setenv("COLLECTOR_SCRAPER_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("COLLECTOR_SECRETS_PROJECT", "acme")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "env-key", cfg.Scraper.APIKey)
	assert.Equal(t, 2.5, cfg.Scraper.RequestsPerSecond)
	assert.Equal(t, "acme", cfg.Secrets.Project)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Database Tests
// =============================================================================

func TestDatabaseConfig_ConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "sqlite uses dsn",
			cfg:  DatabaseConfig{Driver: store.DriverSQLite, DSN: "./data/collector.db"},
			want: "./data/collector.db",
		},
		{
			name: "postgres dsn wins",
			cfg:  DatabaseConfig{Driver: store.DriverPostgres, DSN: "postgres://a@b/c", Host: "ignored"},
			want: "postgres://a@b/c",
		},
		{
			name: "postgres from fields",
			cfg: DatabaseConfig{
				Driver: store.DriverPostgres, Host: "db", Port: 5432,
				User: "collector", Password: "p@ss/word", Name: "realty", SSLMode: "require",
			},
			want: "postgres://collector:p%40ss%2Fword@db:5432/realty?sslmode=require",
		},
		{
			name: "postgres without credentials",
			cfg:  DatabaseConfig{Driver: store.DriverPostgres, Host: "db", Name: "realty"},
			want: "postgres://db/realty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ConnString())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: store.DriverSQLite, DSN: "x.db"},
			Scraper:  ScraperConfig{APIKey: "key"},
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Scraper.APIKey = ""
	assert.ErrorContains(t, cfg.Validate(), "scraper.api_key")

	cfg = valid()
	cfg.Database.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(), "database.driver")

	cfg = valid()
	cfg.Database.DSN = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Database = DatabaseConfig{Driver: store.DriverPostgres}
	assert.Error(t, cfg.Validate())

	cfg.Database.Host = "db"
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Secrets Tests
// =============================================================================

type mapAccessor map[string]string

func (m mapAccessor) Access(ctx context.Context, name string) ([]byte, error) {
	v, ok := m[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(v), nil
}

func TestConfig_ResolveSecrets(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:   store.DriverPostgres,
			Host:     "sm://db-keys#host",
			User:     "sm://db-keys#user",
			Password: "sm://db-keys#password",
			Name:     "realty",
		},
		Scraper: ScraperConfig{APIKey: "sm://scraper-api-key"},
		Secrets: SecretsConfig{Project: "acme"},
	}
	require.True(t, cfg.NeedsSecrets())

	accessor := mapAccessor{
		"projects/acme/secrets/db-keys/versions/latest":        `{"host":"10.0.0.5","user":"collector","password":"s3cret"}`,
		"projects/acme/secrets/scraper-api-key/versions/latest": "abc123\n",
	}

	require.NoError(t, cfg.ResolveSecrets(context.Background(), accessor))

	assert.Equal(t, "10.0.0.5", cfg.Database.Host)
	assert.Equal(t, "collector", cfg.Database.User)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "realty", cfg.Database.Name)
	assert.Equal(t, "abc123", cfg.Scraper.APIKey)
	assert.False(t, cfg.NeedsSecrets())
}

func TestConfig_ResolveSecretsError(t *testing.T) {
	cfg := &Config{Scraper: ScraperConfig{APIKey: "sm://scraper-api-key"}}

	err := cfg.ResolveSecrets(context.Background(), mapAccessor{})
	assert.ErrorIs(t, err, secrets.ErrMissingProject)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger(t *testing.T) {
	for _, tc := range []LogConfig{
		{Level: "info", Format: "json"},
		{Level: "debug", Format: "text"},
		{Level: "warn", Format: "json"},
		{Level: "error", Format: "json"},
		{Level: "invalid", Format: "json"},
	} {
		logger := SetupLogger(&Config{Log: tc})
		assert.NotNil(t, logger, "level=%s format=%s", tc.Level, tc.Format)
	}
}

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}

	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"COLLECTOR_SERVER_HOST",
		"COLLECTOR_SERVER_PORT",
		"COLLECTOR_DATABASE_DRIVER",
		"COLLECTOR_DATABASE_DSN",
		"COLLECTOR_LOG_LEVEL",
		"COLLECTOR_LOG_FORMAT",
		"COLLECTOR_SCRAPER_API_KEY",
		"COLLECTOR_SECRETS_PROJECT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
