package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
log:
  level: debug
  format: json
metrics:
  enabled: true
  addr: "127.0.0.1:9464"
agent:
  id: agent-1
  listeners: 4
  ticks: 6
  shutdown_timeout: 20s
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
		assert.Equal(t, "agent-1", cfg.Agent.ID)
		assert.Equal(t, 4, cfg.Agent.Listeners)
		assert.Equal(t, 1, cfg.Agent.ListenerBuffer, "unset keys keep defaults")
		assert.Equal(t, 6, cfg.Agent.Ticks)
		assert.Equal(t, 20*time.Second, cfg.Agent.ShutdownTimeout)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "agent:\n  listeners: 4\n")
		t.Setenv("PULSE_LISTENERS", "2")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Agent.Listeners)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("malformed file", func(t *testing.T) {
		path := writeConfig(t, "agent: [listeners\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "invalid log format"},
		{
			name:    "bad metrics address",
			mutate:  func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "9464" },
			wantErr: "invalid metrics address",
		},
		{
			name:   "metrics address ignored when disabled",
			mutate: func(c *Config) { c.Metrics.Addr = "9464" },
		},
		{name: "negative listeners", mutate: func(c *Config) { c.Agent.Listeners = -1 }, wantErr: "listeners"},
		{name: "negative buffer", mutate: func(c *Config) { c.Agent.ListenerBuffer = -1 }, wantErr: "listener buffer"},
		{name: "negative ticks", mutate: func(c *Config) { c.Agent.Ticks = -2 }, wantErr: "ticks"},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Agent.ShutdownTimeout = 0 }, wantErr: "shutdown timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	lc := cfg.LoggingConfig()
	assert.Equal(t, "warn", lc.Level)
	assert.False(t, lc.Pretty)
	assert.NotNil(t, lc.Output)
}
