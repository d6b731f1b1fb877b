// Package config loads the pulse configuration.
//
// Sources, lowest precedence first:
//  1. Defaults (Default).
//  2. YAML file (--config flag).
//  3. Environment variables (PULSE_*).
//
// Command-line flags are applied by the CLI on top of the result.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/pulse/internal/logging"
	"github.com/coral-mesh/pulse/internal/safe"
)

// Config is the top-level pulse configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Agent   AgentConfig   `yaml:"agent"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level" env:"PULSE_LOG_LEVEL"`   // trace, debug, info, warn, error
	Format string `yaml:"format" env:"PULSE_LOG_FORMAT"` // pretty, json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"PULSE_METRICS_ENABLED"`
	Addr    string `yaml:"addr" env:"PULSE_METRICS_ADDR"`
}

// AgentConfig controls the demo agent driven by the timer.
type AgentConfig struct {
	// ID identifies this agent in logs. Empty means generate one.
	ID string `yaml:"id" env:"PULSE_AGENT_ID"`
	// Listeners is the number of listeners attached at startup.
	Listeners int `yaml:"listeners" env:"PULSE_LISTENERS"`
	// ListenerBuffer is the channel buffer of each listener.
	ListenerBuffer int `yaml:"listener_buffer" env:"PULSE_LISTENER_BUFFER"`
	// Ticks stops the agent after this many boundaries. Zero runs until signalled.
	Ticks int `yaml:"ticks" env:"PULSE_TICKS"`
	// ShutdownTimeout bounds the wait for the timer to stop after listeners are dropped.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"PULSE_SHUTDOWN_TIMEOUT"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
		Agent: AgentConfig{
			Listeners:       1,
			ListenerBuffer:  1,
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and PULSE_* environment variables. A missing file is an error only when
// path is non-empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := safe.ReadFile(path, nil)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("invalid log level %q (expected trace, debug, info, warn or error)", c.Log.Level)
	}
	if c.Log.Format != "pretty" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format %q (expected pretty or json)", c.Log.Format)
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("invalid metrics address %q: %w", c.Metrics.Addr, err)
		}
	}
	if c.Agent.Listeners < 0 {
		return fmt.Errorf("listeners must not be negative, got %d", c.Agent.Listeners)
	}
	if c.Agent.ListenerBuffer < 0 {
		return fmt.Errorf("listener buffer must not be negative, got %d", c.Agent.ListenerBuffer)
	}
	if c.Agent.Ticks < 0 {
		return fmt.Errorf("ticks must not be negative, got %d", c.Agent.Ticks)
	}
	if c.Agent.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.Agent.ShutdownTimeout)
	}
	return nil
}

// LoggingConfig converts the log section into a logging.Config.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Format != "json"
	return cfg
}
