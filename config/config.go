package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the complete client configuration
type Config struct {
	Bus  BusConfig  `toml:"bus" yaml:"bus"`
	Pool PoolConfig `toml:"pool" yaml:"pool"`
	Call CallConfig `toml:"call" yaml:"call"`
	Log  LogConfig  `toml:"log" yaml:"log"`
}

// BusConfig selects the bus to connect to
type BusConfig struct {
	// Address in D-Bus address syntax. Empty means the system bus.
	Address string `toml:"address" yaml:"address"`
}

// PoolConfig holds link pool settings
type PoolConfig struct {
	Capacity           int      `toml:"capacity" yaml:"capacity"`
	HealthCheckTimeout Duration `toml:"health_check_timeout" yaml:"health_check_timeout"`
	// DialRate limits new connections per second; 0 disables the limit.
	DialRate  float64 `toml:"dial_rate" yaml:"dial_rate"`
	DialBurst int     `toml:"dial_burst" yaml:"dial_burst"`
}

// CallConfig holds per-call settings
type CallConfig struct {
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	Format     string `toml:"format" yaml:"format"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
}

const (
	DefaultCapacity           = 16
	DefaultCallTimeout        = 10 * time.Second
	DefaultHealthCheckTimeout = time.Second
)

// Duration wraps time.Duration so it can be written as "10s" in files
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Default returns a configuration with every default applied
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads a TOML or YAML file, chosen by extension, and applies defaults
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS"); v != "" && c.Bus.Address == "" {
		c.Bus.Address = v
	}
	if v := os.Getenv("UNITBUS_BUS_ADDRESS"); v != "" {
		c.Bus.Address = v
	}
	if v := os.Getenv("UNITBUS_POOL_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UNITBUS_POOL_CAPACITY: %w", err)
		}
		c.Pool.Capacity = n
	}
	if v := os.Getenv("UNITBUS_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("UNITBUS_CALL_TIMEOUT: %w", err)
		}
		c.Call.Timeout.Duration = d
	}
	if v := os.Getenv("UNITBUS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate reports settings that cannot work
func (c *Config) Validate() error {
	if c.Pool.Capacity < 1 {
		return fmt.Errorf("pool.capacity must be at least 1, got %d", c.Pool.Capacity)
	}
	if c.Call.Timeout.Duration <= 0 {
		return fmt.Errorf("call.timeout must be positive, got %s", c.Call.Timeout)
	}
	if c.Pool.HealthCheckTimeout.Duration <= 0 {
		return fmt.Errorf("pool.health_check_timeout must be positive, got %s", c.Pool.HealthCheckTimeout)
	}
	if c.Pool.DialRate < 0 {
		return fmt.Errorf("pool.dial_rate must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	if c.Pool.Capacity == 0 {
		c.Pool.Capacity = DefaultCapacity
	}
	if c.Pool.HealthCheckTimeout.Duration == 0 {
		c.Pool.HealthCheckTimeout.Duration = DefaultHealthCheckTimeout
	}
	if c.Pool.DialBurst == 0 {
		c.Pool.DialBurst = 1
	}
	if c.Call.Timeout.Duration == 0 {
		c.Call.Timeout.Duration = DefaultCallTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
}
