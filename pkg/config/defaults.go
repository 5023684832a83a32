package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittorpc/internal/xdr"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyClientDefaults(&cfg.Client)
	applyAuthDefaults(&cfg.Auth)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets transport defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":20049"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = xdr.DefaultMaxMessageSize
	}
}

// applyClientDefaults sets outbound call defaults.
func applyClientDefaults(cfg *ClientConfig) {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 5 * time.Second
	}
}

// applyAuthDefaults sets authentication defaults.
func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.Flavor == "" {
		cfg.Flavor = "none"
	}
	if cfg.Unix == nil {
		cfg.Unix = make(map[string]any)
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":9090"
	}
}
