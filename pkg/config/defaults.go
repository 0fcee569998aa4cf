package config

import (
	"strings"

	"github.com/calmetro/instrument/internal/protocol/onc"
	"github.com/calmetro/instrument/pkg/equipment"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyPortmapDefaults(&cfg.Portmap)
	applyConnectionDefaults(&cfg.Connection)
	applyDiscoveryDefaults(&cfg.Discovery)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
}

func applyPortmapDefaults(cfg *PortmapConfig) {
	if cfg.Port == 0 {
		cfg.Port = onc.PortmapPort
	}
}

func applyConnectionDefaults(cfg *ConnectionConfig) {
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = equipment.DefaultBufferSize
	}
	if cfg.MaxReadSize == 0 {
		cfg.MaxReadSize = equipment.DefaultMaxReadSize
	}
}

func applyDiscoveryDefaults(cfg *DiscoveryConfig) {
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 1
	}
}
