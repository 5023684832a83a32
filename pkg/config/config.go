// Package config loads and validates the engine configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTORPC_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the listening transport settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Client contains outbound call settings
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// Auth selects the credential attached to outbound calls
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains the listening transport settings.
type ServerConfig struct {
	// ListenAddress is the TCP address the server binds to
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" validate:"required"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// MaxMessageSize is the largest accepted RPC message in bytes.
	// Messages larger than this are rejected as malformed.
	MaxMessageSize int `mapstructure:"max_message_size" yaml:"max_message_size" validate:"required,gt=0"`

	// RateLimit caps dispatched calls per second across all connections.
	// Calls over the limit are answered with SYSTEM_ERR. 0 means unlimited.
	RateLimit uint `mapstructure:"rate_limit" yaml:"rate_limit"`

	// RateBurst is the burst capacity of the rate limiter. Ignored when
	// RateLimit is 0; defaults to RateLimit when unset.
	RateBurst uint `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// ClientConfig contains outbound call settings.
type ClientConfig struct {
	// CallTimeout bounds the wait for a reply to one call
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout" validate:"required,gt=0"`
}

// AuthConfig selects the credential flavor for outbound calls.
//
// The Flavor field determines which flavor is used. Only the corresponding
// flavor-specific section is read; each section is decoded by the matching
// factory in factories.go.
type AuthConfig struct {
	// Flavor specifies which authentication flavor to use
	// Valid values: none, unix
	Flavor string `mapstructure:"flavor" yaml:"flavor" validate:"required,oneof=none unix"`

	// Unix contains AUTH_UNIX-specific configuration
	// Only used when Flavor = "unix"
	Unix map[string]any `mapstructure:"unix" yaml:"unix,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddress is the address of the /metrics HTTP endpoint
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" validate:"required_if=Enabled true"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Dump renders the configuration as YAML, the same shape Load reads back.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// setupViper configures environment variables and the config file location.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DITTORPC_ prefix and underscores.
	// Example: DITTORPC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTORPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file is
// not an error; defaults and environment variables still apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the default configuration directory,
// $XDG_CONFIG_HOME/dittorpc or ~/.config/dittorpc.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dittorpc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dittorpc")
}
