package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittovfs/pkg/adapter/tracker"
	eventsredis "github.com/marmos91/dittovfs/pkg/events/redis"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/spf13/viper"
)

// Config represents the complete DittoVFS configuration.
//
// This structure captures all configurable aspects of the daemon and the
// CLI:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics)
//   - Bus selection
//   - Mount tracker settings
//   - Client enumerator timing
//   - Event fan-out
//   - Backend definitions
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOVFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend type defines its own configuration type. A BackendConfig
// carries the type-specific options as a map which is decoded by the
// factory of the selected type.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains daemon-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Bus selects the message bus to connect to
	Bus BusConfig `mapstructure:"bus" yaml:"bus"`

	// Tracker configures the mount tracker.
	// Uses the tracker.Config type directly to avoid duplication.
	Tracker tracker.Config `mapstructure:"tracker" yaml:"tracker"`

	// Enumerator configures client-side directory listings
	Enumerator EnumeratorConfig `mapstructure:"enumerator" yaml:"enumerator"`

	// Events configures publishing of mount lifecycle events
	Events EventsConfig `mapstructure:"events" yaml:"events"`

	// Backends defines the backends the daemon mounts at startup
	Backends []BackendConfig `mapstructure:"backends" yaml:"backends" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains daemon-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the /metrics endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// BusConfig selects the message bus.
type BusConfig struct {
	// Type is the bus to connect to
	// Valid values: memory, session, system, address
	//
	// "memory" is an in-process bus: the daemon, its backends and an
	// embedded client share it. It is meant for tests and demos.
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory session system address"`

	// Address is the bus address when Type = "address"
	// Example: unix:path=/run/dittovfs/bus
	Address string `mapstructure:"address" yaml:"address" validate:"required_if=Type address"`
}

// EnumeratorConfig configures client enumerators.
type EnumeratorConfig struct {
	// Timeout bounds synchronous waits and asynchronous requests
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`

	// PollInterval is the read-dispatch quantum of synchronous waits
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0,ltefield=Timeout"`

	// BatchSize is the number of entries per GotInfo message sent by
	// backends that do not set their own
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gt=0"`
}

// EventsConfig configures mount event fan-out.
type EventsConfig struct {
	// Redis publishes mounted/unmounted events on a Redis channel
	Redis eventsredis.Config `mapstructure:"redis" yaml:"redis"`
}

// BackendConfig defines one backend mounted by the daemon.
type BackendConfig struct {
	// Name identifies the backend in logs and CLI output
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Type selects the backend implementation
	// Valid values: memory, local, s3, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory local s3 badger"`

	// DisplayName is the user-facing mount name (defaults to Name)
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`

	// Icon is an icon hint for file managers
	Icon string `mapstructure:"icon" yaml:"icon"`

	// ObjectPath is the bus object path of the mount (generated when empty)
	ObjectPath string `mapstructure:"object_path" yaml:"object_path,omitempty" validate:"omitempty,startswith=/"`

	// BatchSize overrides enumerator.batch_size for this backend
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size,omitempty" validate:"gte=0"`

	// Spec is the mount spec the backend registers
	Spec SpecConfig `mapstructure:"spec" yaml:"spec"`

	// Config holds the type-specific options
	Config map[string]any `mapstructure:"config" yaml:"config"`
}

// SpecConfig is the configuration form of a mount spec.
type SpecConfig struct {
	// Items are the key/value pairs of the spec. "type" defaults to the
	// backend type.
	Items map[string]string `mapstructure:"items" yaml:"items"`

	// MountPrefix is the path inside the backend the mount serves
	MountPrefix string `mapstructure:"mount_prefix" yaml:"mount_prefix,omitempty" validate:"omitempty,startswith=/"`
}

// MountSpec builds the mount spec registered for this backend.
func (b *BackendConfig) MountSpec() *vfs.MountSpec {
	spec := vfs.NewMountSpecFromMap(b.Spec.Items, b.Spec.MountPrefix)
	if spec.Get("type") == "" {
		spec.Set("type", b.Type)
	}
	return spec
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOVFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOVFS_ prefix and underscores
	// Example: DITTOVFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOVFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.shutdown_timeout", "server.metrics.enabled", "server.metrics.port",
		"bus.type", "bus.address",
		"tracker.bus_name", "tracker.object_path",
		"tracker.rate_limit.requests_per_second", "tracker.rate_limit.burst",
		"enumerator.timeout", "enumerator.poll_interval", "enumerator.batch_size",
		"events.redis.enabled", "events.redis.address", "events.redis.channel",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/dittovfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			// An explicit path that does not exist behaves the same way
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittovfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittovfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
