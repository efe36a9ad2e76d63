package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultMaxEntryAge     = 30 * time.Minute
	DefaultMetricsInterval = 15 * time.Second
)

// Config is the top-level configuration. Fields map 1:1 to the YAML
// file:
//
//	store:
//	  max_entry_age: 30m
//	metrics:
//	  enabled: true
//	  interval: 15s
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig holds the store settings.
type StoreConfig struct {
	// MaxEntryAge is the class-level TTL: how long an entry survives
	// without a renewing read. Default: 30m.
	MaxEntryAge time.Duration `yaml:"max_entry_age"`
}

// MetricsConfig controls periodic metrics exposition.
type MetricsConfig struct {
	// Enabled turns the periodic metrics dump on.
	Enabled bool `yaml:"enabled"`

	// Interval is how often metrics are written. Default: 15s.
	Interval time.Duration `yaml:"interval"`
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			MaxEntryAge: DefaultMaxEntryAge,
		},
		Metrics: MetricsConfig{
			Interval: DefaultMetricsInterval,
		},
	}
}

// Load reads and parses the config file at path. Missing fields are
// filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Store.MaxEntryAge <= 0 {
		return fmt.Errorf("store.max_entry_age %v must be positive", cfg.Store.MaxEntryAge)
	}
	if cfg.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval %v must be positive", cfg.Metrics.Interval)
	}
	return nil
}
