package reconciler

import (
	"log/slog"
	"time"
)

// Defaults and floors for the loop timings. A configured value at or below
// its floor is replaced by the default.
const (
	DefaultLoopInterval = 120 * time.Second
	MinLoopInterval     = 5 * time.Second
	DefaultMaxRunTime   = 30 * time.Minute
	MinMaxRunTime       = 5 * time.Minute
)

// WindowHour scopes every registry query to the UTC hour the run started in
const WindowHour = "hour"

// Config holds reconciliation loop settings
type Config struct {
	LoopInterval    time.Duration `toml:"loop_interval"`
	MaxRunTime      time.Duration `toml:"max_run_time"`
	Window          string        `toml:"window"`
	TimeoutExitCode int           `toml:"timeout_exit_code"`
}

// DefaultConfig returns default reconciler configuration
func DefaultConfig() Config {
	return Config{
		LoopInterval:    DefaultLoopInterval,
		MaxRunTime:      DefaultMaxRunTime,
		Window:          WindowHour,
		TimeoutExitCode: 0,
	}
}

// Normalize replaces timings at or below their floor with the defaults,
// warning about each replacement
func (c Config) Normalize(logger *slog.Logger) Config {
	if c.LoopInterval <= MinLoopInterval {
		logger.Warn("invalid loop_interval setting, using default value",
			"configured", c.LoopInterval,
			"default", DefaultLoopInterval)
		c.LoopInterval = DefaultLoopInterval
	}

	if c.MaxRunTime <= MinMaxRunTime {
		logger.Warn("invalid max_run_time setting, using default value",
			"configured", c.MaxRunTime,
			"default", DefaultMaxRunTime)
		c.MaxRunTime = DefaultMaxRunTime
	}

	if c.Window == "" {
		c.Window = WindowHour
	}

	return c
}
