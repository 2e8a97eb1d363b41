package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittovfs/internal/protocol/wire"
	"github.com/marmos91/dittovfs/pkg/adapter/tracker"
	eventsredis "github.com/marmos91/dittovfs/pkg/events/redis"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by backend implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyBusDefaults(&cfg.Bus)
	applyTrackerDefaults(&cfg.Tracker)
	applyEnumeratorDefaults(&cfg.Enumerator)
	applyEventsDefaults(&cfg.Events)
	applyBackendDefaults(cfg.Backends)
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

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	// Metrics stay disabled unless requested; the port is always filled so
	// that generated config files show it.
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyBusDefaults sets bus defaults.
func applyBusDefaults(cfg *BusConfig) {
	if cfg.Type == "" {
		cfg.Type = "session"
	}
	cfg.Type = strings.ToLower(cfg.Type)
}

// applyTrackerDefaults sets mount tracker defaults.
func applyTrackerDefaults(cfg *tracker.Config) {
	if cfg.BusName == "" {
		cfg.BusName = wire.TrackerBusName
	}
	if cfg.ObjectPath == "" {
		cfg.ObjectPath = wire.TrackerObjectPath
	}

	// RequestsPerSecond defaults to 0 (throttling disabled)
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond * 2
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// applyEnumeratorDefaults sets client enumerator defaults.
func applyEnumeratorDefaults(cfg *EnumeratorConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = wire.DefaultTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = wire.DefaultPollInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = wire.DefaultBatchSize
	}
}

// applyEventsDefaults sets event fan-out defaults.
func applyEventsDefaults(cfg *EventsConfig) {
	// Enabled defaults to false
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = eventsredis.DefaultChannel
	}
}

// applyBackendDefaults sets per-backend defaults.
func applyBackendDefaults(backends []BackendConfig) {
	for i := range backends {
		b := &backends[i]

		b.Type = strings.ToLower(b.Type)

		if b.DisplayName == "" {
			b.DisplayName = b.Name
		}

		// BatchSize of 0 inherits enumerator.batch_size in CreateMountEntries

		if b.Spec.Items == nil {
			b.Spec.Items = make(map[string]string)
		}
		if b.Config == nil {
			b.Config = make(map[string]any)
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
//
// The default configuration serves a small in-memory demo backend so that a
// freshly started daemon has something to list.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Backends: []BackendConfig{
			{
				Name:        "demo",
				Type:        "memory",
				DisplayName: "Demo",
				Icon:        "folder-remote",
				Spec: SpecConfig{
					Items: map[string]string{
						"type": "memory",
						"name": "demo",
					},
				},
				Config: map[string]any{
					"paths": []string{
						"/README",
						"/docs/guide.txt",
						"/photos/",
					},
				},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
