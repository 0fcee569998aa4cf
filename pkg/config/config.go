// Package config loads the toolkit configuration from file, environment
// and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures every configurable aspect of the toolkit.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (INSTRUMENT_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Portmap configures the RPC Port Mapper lookup
	Portmap PortmapConfig `mapstructure:"portmap"`

	// Connection holds defaults applied to every connection whose record
	// does not override them
	Connection ConnectionConfig `mapstructure:"connection"`

	// Discovery configures the network sweep for VXI-11 devices
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// PortmapConfig configures the Port Mapper client.
type PortmapConfig struct {
	// Port is the Port Mapper port; 111 unless a test or a forwarding
	// setup moves it
	Port uint16 `mapstructure:"port" validate:"required"`
}

// ConnectionConfig holds connection defaults.
type ConnectionConfig struct {
	// TimeoutSeconds is the default I/O timeout; negative means block
	// indefinitely
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`

	// LockTimeoutSeconds is the default lock timeout; negative means
	// wait forever, zero means do not wait
	LockTimeoutSeconds float64 `mapstructure:"lock_timeout_seconds"`

	// BufferSize is the default number of bytes requested per read
	BufferSize uint32 `mapstructure:"buffer_size" validate:"required,gt=0"`

	// MaxReadSize caps the total size of one read message
	MaxReadSize uint32 `mapstructure:"max_read_size" validate:"required,gt=0"`
}

// DiscoveryConfig configures the discovery sweep.
type DiscoveryConfig struct {
	// TimeoutSeconds bounds how long each interface waits for replies
	TimeoutSeconds float64 `mapstructure:"timeout_seconds" validate:"required,gt=0"`

	// Interfaces restricts the sweep to these local addresses; empty
	// means all IPv4 interfaces
	Interfaces []string `mapstructure:"interfaces"`
}

// Load reads the configuration from the given file path (optional),
// merges environment variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSTRUMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
