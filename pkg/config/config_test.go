package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittovfs/internal/protocol/wire"
)

func TestLoad_DefaultConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
logging:
  level: "info"

bus:
  type: "memory"

backends:
  - name: "docs"
    type: "memory"
    config:
      paths:
        - "/readme"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Load config
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Tracker.BusName != wire.TrackerBusName {
		t.Errorf("Expected default tracker bus name %q, got %q", wire.TrackerBusName, cfg.Tracker.BusName)
	}
	if cfg.Enumerator.Timeout != wire.DefaultTimeout {
		t.Errorf("Expected default enumerator timeout %v, got %v", wire.DefaultTimeout, cfg.Enumerator.Timeout)
	}

	if len(cfg.Backends) != 1 {
		t.Fatalf("Expected 1 backend, got %d", len(cfg.Backends))
	}
	b := cfg.Backends[0]
	if b.DisplayName != "docs" {
		t.Errorf("Expected display name to default to the backend name, got %q", b.DisplayName)
	}
	if got := b.MountSpec().String(); got != "type=memory" {
		t.Errorf("Expected mount spec 'type=memory', got %q", got)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Use a temporary directory with a non-existent config file path
	// This ensures we don't load the user's config from ~/.config/dittovfs/
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	// Verify defaults
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Bus.Type != "session" {
		t.Errorf("Expected default bus type 'session', got %q", cfg.Bus.Type)
	}
	if len(cfg.Backends) != 0 {
		t.Errorf("Expected no backends, got %d", len(cfg.Backends))
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidContent := `
logging:
  level: "INFO"
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for invalid YAML, got nil")
	}
}

func TestLoad_Durations(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  shutdown_timeout: 5s

enumerator:
  timeout: 2m
  poll_interval: 50ms
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown_timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Enumerator.Timeout != 2*time.Minute {
		t.Errorf("Expected timeout 2m, got %v", cfg.Enumerator.Timeout)
	}
	if cfg.Enumerator.PollInterval != 50*time.Millisecond {
		t.Errorf("Expected poll_interval 50ms, got %v", cfg.Enumerator.PollInterval)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
bus:
  type: "carrier-pigeon"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown bus type")
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("DITTOVFS_LOGGING_LEVEL", "DEBUG")
	t.Setenv("DITTOVFS_BUS_TYPE", "memory")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level from environment 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Bus.Type != "memory" {
		t.Errorf("Expected bus type from environment 'memory', got %q", cfg.Bus.Type)
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Run("XDGConfigHome", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", tmpDir)

		if got := GetConfigDir(); got != filepath.Join(tmpDir, "dittovfs") {
			t.Errorf("Expected %q, got %q", filepath.Join(tmpDir, "dittovfs"), got)
		}
		if got := GetDefaultConfigPath(); got != filepath.Join(tmpDir, "dittovfs", "config.yaml") {
			t.Errorf("Unexpected default config path %q", got)
		}
	})

	t.Run("Home", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", tmpDir)

		if got := GetConfigDir(); got != filepath.Join(tmpDir, ".config", "dittovfs") {
			t.Errorf("Expected %q, got %q", filepath.Join(tmpDir, ".config", "dittovfs"), got)
		}
	})
}

func TestConfigExists(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	if ConfigExists() {
		t.Fatal("Expected no config file in a fresh directory")
	}

	if err := InitConfigToPath(GetDefaultConfigPath(), false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config file to exist after init")
	}
}

func TestBackendMountSpec(t *testing.T) {
	b := BackendConfig{
		Name: "photos",
		Type: "s3",
		Spec: SpecConfig{
			Items:       map[string]string{"bucket": "photos"},
			MountPrefix: "/2024",
		},
	}

	if got := b.MountSpec().String(); got != "bucket=photos,type=s3:/2024" {
		t.Errorf("Unexpected mount spec %q", got)
	}

	// An explicit type is kept
	b.Spec.Items["type"] = "minio"
	if got := b.MountSpec().Type(); got != "minio" {
		t.Errorf("Expected explicit type 'minio', got %q", got)
	}
}
