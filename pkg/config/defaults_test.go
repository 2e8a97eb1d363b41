package config

import (
	"testing"
	"time"

	"github.com/marmos91/dittovfs/internal/protocol/wire"
	eventsredis "github.com/marmos91/dittovfs/pkg/events/redis"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LogLevelNormalization(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"Info", "INFO"},
		{"WARN", "WARN"},
		{"error", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg := &Config{Logging: LoggingConfig{Level: tt.input}}
			ApplyDefaults(cfg)
			if cfg.Logging.Level != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, cfg.Logging.Level)
			}
		})
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Metrics.Enabled {
		t.Error("Expected metrics to be disabled by default")
	}
	if cfg.Server.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Server.Metrics.Port)
	}
}

func TestApplyDefaults_Bus(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Bus.Type != "session" {
		t.Errorf("Expected default bus type 'session', got %q", cfg.Bus.Type)
	}

	cfg = &Config{Bus: BusConfig{Type: "MEMORY"}}
	ApplyDefaults(cfg)
	if cfg.Bus.Type != "memory" {
		t.Errorf("Expected normalized bus type 'memory', got %q", cfg.Bus.Type)
	}
}

func TestApplyDefaults_Tracker(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Tracker.BusName != wire.TrackerBusName {
		t.Errorf("Expected bus name %q, got %q", wire.TrackerBusName, cfg.Tracker.BusName)
	}
	if cfg.Tracker.ObjectPath != wire.TrackerObjectPath {
		t.Errorf("Expected object path %q, got %q", wire.TrackerObjectPath, cfg.Tracker.ObjectPath)
	}
	if cfg.Tracker.RateLimit.RequestsPerSecond != 0 || cfg.Tracker.RateLimit.Burst != 0 {
		t.Errorf("Expected rate limiting disabled, got %+v", cfg.Tracker.RateLimit)
	}
	if cfg.Tracker.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected tracker shutdown timeout 10s, got %v", cfg.Tracker.ShutdownTimeout)
	}

	cfg = &Config{}
	cfg.Tracker.RateLimit.RequestsPerSecond = 50
	ApplyDefaults(cfg)
	if cfg.Tracker.RateLimit.Burst != 100 {
		t.Errorf("Expected burst to default to twice the rate, got %d", cfg.Tracker.RateLimit.Burst)
	}
}

func TestApplyDefaults_Enumerator(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Enumerator.Timeout != wire.DefaultTimeout {
		t.Errorf("Expected timeout %v, got %v", wire.DefaultTimeout, cfg.Enumerator.Timeout)
	}
	if cfg.Enumerator.PollInterval != wire.DefaultPollInterval {
		t.Errorf("Expected poll interval %v, got %v", wire.DefaultPollInterval, cfg.Enumerator.PollInterval)
	}
	if cfg.Enumerator.BatchSize != wire.DefaultBatchSize {
		t.Errorf("Expected batch size %d, got %d", wire.DefaultBatchSize, cfg.Enumerator.BatchSize)
	}
}

func TestApplyDefaults_Events(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Events.Redis.Enabled {
		t.Error("Expected Redis events to be disabled by default")
	}
	if cfg.Events.Redis.Channel != eventsredis.DefaultChannel {
		t.Errorf("Expected channel %q, got %q", eventsredis.DefaultChannel, cfg.Events.Redis.Channel)
	}
}

func TestApplyDefaults_Backends(t *testing.T) {
	cfg := &Config{
		Backends: []BackendConfig{
			{Name: "docs", Type: "Memory"},
			{Name: "photos", Type: "s3", DisplayName: "Photos"},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Backends[0].Type != "memory" {
		t.Errorf("Expected normalized type 'memory', got %q", cfg.Backends[0].Type)
	}
	if cfg.Backends[0].DisplayName != "docs" {
		t.Errorf("Expected display name to default to name, got %q", cfg.Backends[0].DisplayName)
	}
	if cfg.Backends[1].DisplayName != "Photos" {
		t.Errorf("Expected explicit display name to be kept, got %q", cfg.Backends[1].DisplayName)
	}
	if cfg.Backends[0].Spec.Items == nil || cfg.Backends[0].Config == nil {
		t.Error("Expected spec items and config maps to be initialized")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server:     ServerConfig{ShutdownTimeout: time.Minute},
		Enumerator: EnumeratorConfig{Timeout: time.Second, PollInterval: 10 * time.Millisecond, BatchSize: 7},
	}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != time.Minute {
		t.Errorf("Expected explicit shutdown timeout to be kept, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Enumerator.Timeout != time.Second || cfg.Enumerator.PollInterval != 10*time.Millisecond || cfg.Enumerator.BatchSize != 7 {
		t.Errorf("Expected explicit enumerator settings to be kept, got %+v", cfg.Enumerator)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if len(cfg.Backends) != 1 {
		t.Fatalf("Expected one demo backend, got %d", len(cfg.Backends))
	}
	demo := cfg.Backends[0]
	if demo.Type != "memory" {
		t.Errorf("Expected demo backend type 'memory', got %q", demo.Type)
	}
	if got := demo.MountSpec().String(); got != "name=demo,type=memory" {
		t.Errorf("Unexpected demo mount spec %q", got)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}
