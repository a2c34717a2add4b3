// Package config loads relay settings from the environment and an optional
// YAML file.
//
// Every key can be set through an environment variable named RELAY_<KEY>,
// for example RELAY_WORKERS=4 or RELAY_HANDOFF_TIMEOUT=30s. When RELAY_CONFIG
// names a file, it is read first and the environment overrides it.
package config

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "RELAY"

// Config holds every tunable of a relay run.
type Config struct {
	// Host is the interface both listeners bind to.
	Host string `mapstructure:"host"`

	// StatusAddr enables the HTTP status endpoint when non-empty.
	StatusAddr string `mapstructure:"status_addr"`

	// Log holds logger settings.
	Log LogConfig `mapstructure:",squash"`

	// PortIn receives the task batch; PortOut streams results.
	PortIn  int `mapstructure:"port_in"`
	PortOut int `mapstructure:"port_out"`

	// Workers is the pool size. Defaults to one less than the number of
	// CPUs, leaving headroom for a peer on the same machine.
	Workers int `mapstructure:"workers"`

	// Rounds is the compute repetition count per task.
	Rounds int `mapstructure:"rounds"`

	// MaxLineBytes bounds a single protocol line.
	MaxLineBytes int `mapstructure:"max_line_bytes"`

	// HandoffTimeout bounds how long egress waits for the batch size.
	// Zero waits until the run is cancelled.
	HandoffTimeout time.Duration `mapstructure:"handoff_timeout"`

	// AcceptTimeout bounds how long each role waits for its peer.
	// Zero waits until the run is cancelled.
	AcceptTimeout time.Duration `mapstructure:"accept_timeout"`

	// JoinGrace is how long workers get to exit before being abandoned.
	JoinGrace time.Duration `mapstructure:"join_grace"`

	// ProgressInterval is the period of progress log lines; zero disables.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level      string `mapstructure:"log_level"`  // debug, info, warn, error
	Format     string `mapstructure:"log_format"` // console or json
	File       string `mapstructure:"log_file"`   // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	MaxBackups int    `mapstructure:"log_max_backups"`
	MaxAgeDays int    `mapstructure:"log_max_age_days"`
}

// DefaultWorkers returns max(1, NumCPU-1).
func DefaultWorkers() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port_in", 5000)
	v.SetDefault("port_out", 5001)
	v.SetDefault("workers", DefaultWorkers())
	v.SetDefault("rounds", 60000)
	v.SetDefault("max_line_bytes", 1<<20)
	v.SetDefault("handoff_timeout", time.Duration(0))
	v.SetDefault("accept_timeout", time.Duration(0))
	v.SetDefault("join_grace", 2*time.Second)
	v.SetDefault("progress_interval", time.Second)
	v.SetDefault("status_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 28)
}

// Load builds a Config from defaults, the optional RELAY_CONFIG file and the
// environment, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Rounds < 0 {
		errs = append(errs, fmt.Errorf("rounds must not be negative, got %d", c.Rounds))
	}
	for name, port := range map[string]int{"port_in": c.PortIn, "port_out": c.PortOut} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", name, port))
		}
	}
	if c.PortIn != 0 && c.PortIn == c.PortOut {
		errs = append(errs, fmt.Errorf("port_in and port_out must differ, both are %d", c.PortIn))
	}
	for name, d := range map[string]time.Duration{
		"handoff_timeout":   c.HandoffTimeout,
		"accept_timeout":    c.AcceptTimeout,
		"join_grace":        c.JoinGrace,
		"progress_interval": c.ProgressInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if c.MaxLineBytes < 64 {
		errs = append(errs, fmt.Errorf("max_line_bytes must be at least 64, got %d", c.MaxLineBytes))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// IngressAddr is the host:port the ingress role listens on.
func (c *Config) IngressAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.PortIn))
}

// EgressAddr is the host:port the egress role listens on.
func (c *Config) EgressAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.PortOut))
}
