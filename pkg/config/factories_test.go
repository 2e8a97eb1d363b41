package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend/memory"
)

func TestCreateBackend_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := &BackendConfig{
		Name: "demo",
		Type: "memory",
		Config: map[string]any{
			"paths": []any{"/readme", "/docs/"},
		},
	}

	b, err := CreateBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create memory backend: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*memory.Backend); !ok {
		t.Fatalf("Expected *memory.Backend, got %T", b)
	}

	entries, err := b.List(ctx, "/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(entries))
	}
}

func TestCreateBackend_MemoryCommaSeparatedPaths(t *testing.T) {
	ctx := context.Background()
	cfg := &BackendConfig{
		Type:   "memory",
		Config: map[string]any{"paths": "/a,/b,/c"},
	}

	b, err := CreateBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create memory backend: %v", err)
	}
	entries, err := b.List(ctx, "/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(entries))
	}
}

func TestCreateBackend_Local(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	b, err := CreateBackend(ctx, &BackendConfig{
		Type:   "local",
		Config: map[string]any{"root": root},
	})
	if err != nil {
		t.Fatalf("Failed to create local backend: %v", err)
	}
	defer b.Close()

	entries, err := b.List(ctx, "/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "hello.txt" {
		t.Errorf("Unexpected entries: %v", entries)
	}
}

func TestCreateBackend_LocalMissingRoot(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{
		Type:   "local",
		Config: map[string]any{},
	})
	if err == nil {
		t.Fatal("Expected error for missing root")
	}
	if !strings.Contains(err.Error(), "root is required") {
		t.Errorf("Expected 'root is required' error, got: %v", err)
	}
}

func TestCreateBackend_BadgerInMemory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "photos"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	b, err := CreateBackend(ctx, &BackendConfig{
		Type: "badger",
		Config: map[string]any{
			"in_memory":   true,
			"import_root": root,
		},
	})
	if err != nil {
		t.Fatalf("Failed to create badger backend: %v", err)
	}
	defer b.Close()

	entries, err := b.List(ctx, "/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "photos" {
		t.Errorf("Expected imported 'photos' directory, got %v", entries)
	}
}

func TestCreateBackend_BadgerImportReadOnly(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{
		Type: "badger",
		Config: map[string]any{
			"db_path":     t.TempDir(),
			"read_only":   true,
			"import_root": t.TempDir(),
		},
	})
	if err == nil {
		t.Fatal("Expected error for import_root with read_only")
	}
}

func TestCreateBackend_S3MissingBucket(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{
		Type:   "s3",
		Config: map[string]any{"region": "us-east-1"},
	})
	if err == nil {
		t.Fatal("Expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket is required") {
		t.Errorf("Expected 'bucket is required' error, got: %v", err)
	}
}

func TestCreateBackend_S3MissingRegion(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{
		Type:   "s3",
		Config: map[string]any{"bucket": "photos"},
	})
	if err == nil {
		t.Fatal("Expected error for missing region")
	}
	if !strings.Contains(err.Error(), "region is required") {
		t.Errorf("Expected 'region is required' error, got: %v", err)
	}
}

func TestCreateBackend_S3(t *testing.T) {
	// The client is only built here; no request is sent.
	b, err := CreateBackend(context.Background(), &BackendConfig{
		Type: "s3",
		Config: map[string]any{
			"bucket":            "photos",
			"region":            "us-east-1",
			"endpoint":          "http://localhost:9000",
			"access_key_id":     "minio",
			"secret_access_key": "minio123",
			"page_size":         100,
		},
	})
	if err != nil {
		t.Fatalf("Failed to create S3 backend: %v", err)
	}
	if b.Type() != "s3" {
		t.Errorf("Expected type 's3', got %q", b.Type())
	}
}

func TestCreateBackend_UnknownType(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{Type: "ftp"})
	if err == nil {
		t.Fatal("Expected error for unknown backend type")
	}
	if !strings.Contains(err.Error(), "unknown backend type") {
		t.Errorf("Expected 'unknown backend type' error, got: %v", err)
	}
}

func TestCreateBus_Memory(t *testing.T) {
	res, err := CreateBus(&BusConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory bus: %v", err)
	}
	defer res.Conn.Close()

	if res.Hub == nil {
		t.Fatal("Expected memory hub")
	}

	other, err := res.Dial()
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer other.Close()

	if other.UniqueName() == res.Conn.UniqueName() {
		t.Error("Expected Dial to open a new connection")
	}
	if err := other.RequestName("io.dittovfs.Test"); err != nil {
		t.Fatalf("RequestName failed: %v", err)
	}
	if owner, ok := res.Hub.NameOwner("io.dittovfs.Test"); !ok || owner != other.UniqueName() {
		t.Errorf("Expected the dialled connection to share the hub, got owner %q", owner)
	}
}

func TestCreateBus_UnknownType(t *testing.T) {
	if _, err := CreateBus(&BusConfig{Type: "tcp"}); err == nil {
		t.Fatal("Expected error for unknown bus type")
	}
}

func TestCreateMountEntries(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Enumerator.BatchSize = 3
	cfg.Backends = append(cfg.Backends, BackendConfig{
		Name:        "docs",
		Type:        "memory",
		DisplayName: "Docs",
		BatchSize:   10,
		ObjectPath:  "/io/dittovfs/mount/docs",
		Spec:        SpecConfig{Items: map[string]string{"name": "docs"}, MountPrefix: "/shared"},
	})
	ApplyDefaults(cfg)

	entries, err := CreateMountEntries(context.Background(), cfg)
	if err != nil {
		t.Fatalf("CreateMountEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	if entries[0].Mount.BatchSize != 3 {
		t.Errorf("Expected inherited batch size 3, got %d", entries[0].Mount.BatchSize)
	}
	if entries[1].Mount.BatchSize != 10 {
		t.Errorf("Expected explicit batch size 10, got %d", entries[1].Mount.BatchSize)
	}
	if entries[1].Mount.ObjectPath != "/io/dittovfs/mount/docs" {
		t.Errorf("Unexpected object path %q", entries[1].Mount.ObjectPath)
	}
	if got := entries[1].Mount.Spec.String(); got != "name=docs,type=memory:/shared" {
		t.Errorf("Unexpected spec %q", got)
	}
	if entries[1].Mount.DisplayName != "Docs" {
		t.Errorf("Unexpected display name %q", entries[1].Mount.DisplayName)
	}
}

func TestCreateMountEntries_Failure(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backends = append(cfg.Backends, BackendConfig{
		Name:   "broken",
		Type:   "local",
		Config: map[string]any{"root": filepath.Join(t.TempDir(), "missing")},
	})

	_, err := CreateMountEntries(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for broken backend")
	}
	if !strings.Contains(err.Error(), `backend "broken"`) {
		t.Errorf("Expected error to name the backend, got: %v", err)
	}
}
