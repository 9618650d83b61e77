package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/dispatch"
	"github.com/jeffstoner/ganymede/internal/logging"
	"github.com/jeffstoner/ganymede/internal/reconciler"
	"github.com/jeffstoner/ganymede/internal/schedule"
	"github.com/jeffstoner/ganymede/internal/storage"
	"github.com/jeffstoner/ganymede/internal/tracing"
)

// Config represents the application configuration
type Config struct {
	Database   db.Config         `toml:"database"`
	Reconciler reconciler.Config `toml:"reconciler"`
	Schedule   ScheduleConfig    `toml:"schedule"`
	Dispatch   dispatch.Config   `toml:"dispatch"`
	HTTP       HTTPConfig        `toml:"http"`
	Storage    storage.Config    `toml:"storage"`
	Tracing    tracing.Config    `toml:"tracing"`
	Logging    logging.Config    `toml:"logging"`
}

// ScheduleConfig keeps jupiter resident, starting a run at every match of
// a cron expression. Empty runs once and exits.
type ScheduleConfig struct {
	Expression string `toml:"expression"`
}

// HTTPConfig holds HTTP API server settings
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`

	// Mode is the gin mode: debug, release or test
	Mode           string   `toml:"mode"`
	CORSOrigins    []string `toml:"cors_origins"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
}

// ListenAddress returns the host:port the API server binds
func (h HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          db.DriverSQLite,
			DSN:             "ganymede.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SkipMigrations:  false,
		},
		Reconciler: reconciler.DefaultConfig(),
		Dispatch:   dispatch.DefaultConfig(),
		HTTP: HTTPConfig{
			Enabled:        true,
			Address:        "0.0.0.0",
			Port:           8080,
			Mode:           "release",
			MaxUploadBytes: 32 << 20,
		},
		Storage: storage.DefaultConfig(),
		Tracing: tracing.DefaultConfig(),
		Logging: logging.DefaultConfig(),
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid. Reconciler timings are
// not checked here; out-of-range values are replaced at startup by
// reconciler.Config.Normalize.
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	switch c.Database.Driver {
	case db.DriverSQLite, db.DriverPostgres, db.DriverMySQL:
	default:
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3, postgres, or mysql)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	// Reconciler validation
	if c.Reconciler.Window != "" && c.Reconciler.Window != reconciler.WindowHour {
		return fmt.Errorf("unsupported reconciler window: %s (must be hour)", c.Reconciler.Window)
	}

	if c.Schedule.Expression != "" {
		if _, err := schedule.Parse(c.Schedule.Expression); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}

	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	// HTTP validation
	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}
		switch c.HTTP.Mode {
		case "debug", "release", "test":
		default:
			return fmt.Errorf("invalid HTTP mode: %s (must be debug, release, or test)", c.HTTP.Mode)
		}
		if err := c.Storage.Validate(); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}

	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return fmt.Errorf("tracing service_name must be specified")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	return nil
}
