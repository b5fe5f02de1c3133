package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, ":memory:", cfg.Database.DSN)
	assert.Equal(t, 10, cfg.Pool.MaxSize)
	assert.Equal(t, 0, cfg.Pool.MinSize)
	assert.Equal(t, 60*time.Second, cfg.Pool.ConnectTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Pool.MaxLifetime)
	assert.True(t, cfg.Pool.TestOnAcquire)
	assert.True(t, cfg.Pool.Fair)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dbpoolctl.yaml")
	content := `
database:
  driver: sqlite3
  dsn: /var/lib/app/data.db
pool:
  max_size: 25
  min_size: 5
  connect_timeout: 10s
  idle_timeout: 5m
  test_on_acquire: true
  fair: false
server:
  port: 9090
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/app/data.db", cfg.Database.DSN)
	assert.Equal(t, 25, cfg.Pool.MaxSize)
	assert.Equal(t, 5, cfg.Pool.MinSize)
	assert.Equal(t, 10*time.Second, cfg.Pool.ConnectTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Pool.IdleTimeout)
	assert.False(t, cfg.Pool.Fair)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Address)
	assert.Equal(t, 30*time.Minute, cfg.Pool.MaxLifetime)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Pool, cfg.Pool)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	content := `
pool:
  max_size: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSaveAndReloadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dbpoolctl.yaml")

	cfg := DefaultConfig()
	cfg.Pool.MaxSize = 42
	cfg.Logging.Level = "warn"
	require.NoError(t, cfg.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Pool.MaxSize)
	assert.Equal(t, "warn", loaded.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "Unsupported driver",
			mutate: func(c *Config) { c.Database.Driver = "postgres" },
			errMsg: "unsupported database driver",
		},
		{
			name:   "Empty DSN",
			mutate: func(c *Config) { c.Database.DSN = "" },
			errMsg: "DSN cannot be empty",
		},
		{
			name:   "Zero max size",
			mutate: func(c *Config) { c.Pool.MaxSize = 0 },
			errMsg: "max size",
		},
		{
			name:   "Min size above max size",
			mutate: func(c *Config) { c.Pool.MinSize = 11 },
			errMsg: "min size",
		},
		{
			name:   "Zero connect timeout",
			mutate: func(c *Config) { c.Pool.ConnectTimeout = 0 },
			errMsg: "connect timeout",
		},
		{
			name:   "Invalid port",
			mutate: func(c *Config) { c.Server.Port = 70000 },
			errMsg: "invalid port",
		},
		{
			name:   "Invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			errMsg: "invalid log level",
		},
		{
			name:   "Invalid log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			errMsg: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPoolOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.MaxSize = 7
	cfg.Pool.IdleTimeout = time.Minute
	cfg.Pool.Fair = false

	opts := cfg.PoolOptions()
	assert.Equal(t, 7, opts.MaxSize)
	assert.Equal(t, time.Minute, opts.IdleTimeout)
	assert.False(t, opts.Fair)
	assert.Equal(t, cfg.Pool.TestOnAcquire, opts.TestOnAcquire)
}
