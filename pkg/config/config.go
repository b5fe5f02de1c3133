package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sandboxrunner/dbpool/pkg/pool"
)

// Config is the dbpoolctl configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Pool     PoolConfig     `yaml:"pool" mapstructure:"pool"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// DatabaseConfig identifies the database the pool connects to.
type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// PoolConfig holds the connection pool settings.
type PoolConfig struct {
	MaxSize        int           `yaml:"max_size" mapstructure:"max_size"`
	MinSize        int           `yaml:"min_size" mapstructure:"min_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime" mapstructure:"max_lifetime"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	TestOnAcquire  bool          `yaml:"test_on_acquire" mapstructure:"test_on_acquire"`
	Fair           bool          `yaml:"fair" mapstructure:"fair"`
}

// ServerConfig holds the stats HTTP server settings.
type ServerConfig struct {
	Address      string        `yaml:"address" mapstructure:"address"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	OutputFile string `yaml:"output_file" mapstructure:"output_file"`
}

// DefaultConfig returns the default configuration values.
func DefaultConfig() *Config {
	opts := pool.DefaultOptions()
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    ":memory:",
		},
		Pool: PoolConfig{
			MaxSize:        opts.MaxSize,
			MinSize:        opts.MinSize,
			ConnectTimeout: opts.ConnectTimeout,
			MaxLifetime:    opts.MaxLifetime,
			IdleTimeout:    opts.IdleTimeout,
			TestOnAcquire:  opts.TestOnAcquire,
			Fair:           opts.Fair,
		},
		Server: ServerConfig{
			Address:      "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputFile: "",
		},
	}
}

// LoadConfig loads configuration from files and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("dbpoolctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.config/dbpool")
		v.AddConfigPath("/etc/dbpool")
	}

	v.SetEnvPrefix("DBPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a file.
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s (only 'sqlite3' is available)", c.Database.Driver)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	if c.Pool.MaxSize < 1 {
		return fmt.Errorf("pool max size must be at least 1")
	}

	if c.Pool.MinSize < 0 || c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("pool min size must be between 0 and max size")
	}

	if c.Pool.ConnectTimeout <= 0 {
		return fmt.Errorf("pool connect timeout must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json, text, or console)", c.Logging.Format)
	}

	return nil
}

// PoolOptions converts the pool section into pool.Options.
func (c *Config) PoolOptions() pool.Options {
	return pool.Options{
		MaxSize:        c.Pool.MaxSize,
		MinSize:        c.Pool.MinSize,
		ConnectTimeout: c.Pool.ConnectTimeout,
		MaxLifetime:    c.Pool.MaxLifetime,
		IdleTimeout:    c.Pool.IdleTimeout,
		TestOnAcquire:  c.Pool.TestOnAcquire,
		Fair:           c.Pool.Fair,
	}
}
