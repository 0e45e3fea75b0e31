// Package config loads aesdlogd's daemon settings from a YAML file,
// adapted from the teacher's wing.yaml loader: a flat struct with
// yaml.v3 tags, zero-value-is-absent semantics, and CLI flags taking
// precedence over whatever the file sets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the daemon exposes, whether set via flag or file.
type Config struct {
	Port              int    `yaml:"port"`
	Capacity          int    `yaml:"capacity"`
	TimestampInterval string `yaml:"timestamp_interval"`
	MaxCommandBytes   int    `yaml:"max_command_bytes,omitempty"`
	PersistFile       string `yaml:"persist_file,omitempty"`
	LogLevel          string `yaml:"log_level"`
	LogFile           string `yaml:"log_file,omitempty"`
}

// Default returns the configuration the original aesdsocket.c effectively
// hard-codes: port 9000, a 10-entry ring, and a 10-second timestamp tick.
func Default() Config {
	return Config{
		Port:              9000,
		Capacity:          10,
		TimestampInterval: "10s",
		LogLevel:          "info",
	}
}

// Interval parses TimestampInterval, falling back to 10s on an empty or
// unparseable value rather than failing startup over a cosmetic setting.
func (c Config) Interval() time.Duration {
	if c.TimestampInterval == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.TimestampInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// Load reads a YAML config file at path, starting from Default() so any
// field the file omits keeps its default. A missing file is not an error —
// callers get defaults, matching LoadWingConfig's "file absent -> zero
// value" behavior in the teacher.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
