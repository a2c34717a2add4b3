package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 5000, cfg.PortIn)
	assert.Equal(t, 5001, cfg.PortOut)
	assert.Equal(t, DefaultWorkers(), cfg.Workers)
	assert.Equal(t, 60000, cfg.Rounds)
	assert.Equal(t, time.Duration(0), cfg.HandoffTimeout)
	assert.Equal(t, time.Duration(0), cfg.AcceptTimeout)
	assert.Equal(t, 2*time.Second, cfg.JoinGrace)
	assert.Equal(t, time.Second, cfg.ProgressInterval)
	assert.Equal(t, 1<<20, cfg.MaxLineBytes)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:5000", cfg.IngressAddr())
	assert.Equal(t, "127.0.0.1:5001", cfg.EgressAddr())
}

func TestDefaultWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultWorkers(), 1)
}

// TestLoadFromEnv overrides every kind of field through the environment.
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELAY_WORKERS", "3")
	t.Setenv("RELAY_ROUNDS", "10")
	t.Setenv("RELAY_PORT_IN", "6000")
	t.Setenv("RELAY_PORT_OUT", "6001")
	t.Setenv("RELAY_HANDOFF_TIMEOUT", "30s")
	t.Setenv("RELAY_LOG_FORMAT", "json")
	t.Setenv("RELAY_STATUS_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 10, cfg.Rounds)
	assert.Equal(t, 6000, cfg.PortIn)
	assert.Equal(t, 6001, cfg.PortOut)
	assert.Equal(t, 30*time.Second, cfg.HandoffTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.StatusAddr)
}

// TestLoadFromFile reads a YAML file and lets the environment win.
func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 5\nrounds: 7\njoin_grace: 500ms\n"), 0o644))

	t.Setenv("RELAY_CONFIG", path)
	t.Setenv("RELAY_ROUNDS", "9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 9, cfg.Rounds)
	assert.Equal(t, 500*time.Millisecond, cfg.JoinGrace)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("RELAY_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Host: "127.0.0.1", PortIn: 5000, PortOut: 5001, Workers: 1, Rounds: 0,
			MaxLineBytes: 1024, JoinGrace: time.Second, Log: LogConfig{Format: "console"},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "zero workers", mutate: func(c *Config) { c.Workers = 0 }},
		{name: "negative rounds", mutate: func(c *Config) { c.Rounds = -1 }},
		{name: "port too large", mutate: func(c *Config) { c.PortOut = 70000 }},
		{name: "same ports", mutate: func(c *Config) { c.PortOut = c.PortIn }},
		{name: "negative grace", mutate: func(c *Config) { c.JoinGrace = -time.Second }},
		{name: "tiny line limit", mutate: func(c *Config) { c.MaxLineBytes = 8 }},
		{name: "unknown log format", mutate: func(c *Config) { c.Log.Format = "xml" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	// Ephemeral ports may coincide.
	c := valid()
	c.PortIn, c.PortOut = 0, 0
	assert.NoError(t, c.Validate())
}
