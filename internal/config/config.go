// Package config loads server settings from defaults, an optional TOML or
// YAML file, and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is the application data directory name.
	AppName = "doit"

	// DriverJSON stores tasks in a single JSON file.
	DriverJSON = "json"

	// DriverSQLite stores tasks in a SQLite database.
	DriverSQLite = "sqlite"

	// TasksFile is the task list filename used by the JSON driver.
	TasksFile = "tasks.json"

	// DatabaseFile is the database filename used by the SQLite driver.
	DatabaseFile = "tasks.db"
)

// Config holds the server configuration.
type Config struct {
	Port    string `toml:"port" yaml:"port"`
	DataDir string `toml:"data_dir" yaml:"data_dir"`
	Driver  string `toml:"driver" yaml:"driver"`

	// RecoverCorrupt moves an unreadable task file aside and starts with an
	// empty list instead of refusing to start.
	RecoverCorrupt bool `toml:"recover_corrupt" yaml:"recover_corrupt"`

	Log LogConfig `toml:"log" yaml:"log"`
}

// LogConfig controls the application logger.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`   // debug, info, warn, error
	Format string `toml:"format" yaml:"format"` // text, json, logfmt
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:    "8080",
		DataDir: DefaultDataDir(),
		Driver:  DriverJSON,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultDataDir returns the default data directory.
// Uses XDG_DATA_HOME if set, otherwise $HOME/.local/share.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "data")
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// Load builds the configuration. If path is non-empty the file is decoded
// over the defaults; environment variables are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, c); err != nil {
			return fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q: expected .toml, .yaml or .yml", filepath.Ext(path))
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.Driver = getEnv("STORE_DRIVER", c.Driver)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	if v := os.Getenv("RECOVER_CORRUPT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RECOVER_CORRUPT %q: %w", v, err)
		}
		c.RecoverCorrupt = b
	}

	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port is required")
	}

	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir is required")
	}

	if c.Driver != DriverJSON && c.Driver != DriverSQLite {
		return fmt.Errorf("driver must be '%s' or '%s'", DriverJSON, DriverSQLite)
	}

	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// StoragePath returns the file the configured driver stores tasks in.
func (c *Config) StoragePath() string {
	if c.Driver == DriverSQLite {
		return filepath.Join(c.DataDir, DatabaseFile)
	}
	return filepath.Join(c.DataDir, TasksFile)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
