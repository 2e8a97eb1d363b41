package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/adapter/mounts"
	"github.com/marmos91/dittovfs/pkg/backend"
	backendBadger "github.com/marmos91/dittovfs/pkg/backend/badger"
	backendLocal "github.com/marmos91/dittovfs/pkg/backend/local"
	backendMemory "github.com/marmos91/dittovfs/pkg/backend/memory"
	backendS3 "github.com/marmos91/dittovfs/pkg/backend/s3"
	"github.com/marmos91/dittovfs/pkg/bus"
	busDbus "github.com/marmos91/dittovfs/pkg/bus/dbus"
	busMemory "github.com/marmos91/dittovfs/pkg/bus/memory"
	"github.com/mitchellh/mapstructure"
)

// BusResult holds the bus connections created from configuration.
type BusResult struct {
	// Conn is the shared connection of the process (tracker, clients).
	Conn bus.Conn

	// Dial opens another shared connection. Backends get one each.
	Dial func() (bus.Conn, error)

	// DialPrivate opens a connection dispatched only by ReadDispatch, as
	// used by synchronous listings.
	DialPrivate func() (bus.Conn, error)

	// Hub is the in-process hub when bus.type is "memory", nil otherwise.
	Hub *busMemory.Hub
}

// CreateBus connects to the bus selected by the configuration.
//
// Supported types:
//   - "memory": an in-process hub; every connection of the process shares it
//   - "session", "system": the D-Bus session or system bus
//   - "address": the D-Bus bus at cfg.Address
func CreateBus(cfg *BusConfig) (*BusResult, error) {
	switch cfg.Type {
	case "memory":
		hub := busMemory.NewHub()
		return &BusResult{
			Conn:        hub.Connect(),
			Dial:        func() (bus.Conn, error) { return hub.Connect(), nil },
			DialPrivate: func() (bus.Conn, error) { return hub.ConnectPrivate(), nil },
			Hub:         hub,
		}, nil

	case "session", "system", "address":
		typ := busDbus.BusType(cfg.Type)
		dial := func() (bus.Conn, error) {
			return busDbus.Dial(typ, cfg.Address)
		}
		conn, err := dial()
		if err != nil {
			return nil, err
		}
		// godbus dispatches every connection from its own goroutine, so a
		// private connection is an ordinary one.
		return &BusResult{Conn: conn, Dial: dial, DialPrivate: dial}, nil

	default:
		return nil, fmt.Errorf("unknown bus type: %q", cfg.Type)
	}
}

// CreateBackend creates a backend based on configuration.
//
// This factory function uses the Type field to determine which backend
// implementation to create, then decodes the type-specific configuration
// from the Config map and passes it to the backend's constructor.
//
// Supported types:
//   - "memory": Uses pkg/backend/memory (tree built from a list of paths)
//   - "local": Uses pkg/backend/local (a directory of the local filesystem)
//   - "s3": Uses pkg/backend/s3 (Amazon S3 or compatible storage)
//   - "badger": Uses pkg/backend/badger (persistent listing snapshot)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Backend configuration
//
// Returns:
//   - backend.Backend: Initialized backend
//   - error: Configuration or initialization error
func CreateBackend(ctx context.Context, cfg *BackendConfig) (backend.Backend, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryBackend(cfg.Config)
	case "local":
		return createLocalBackend(cfg.Config)
	case "s3":
		return createS3Backend(ctx, cfg.Config)
	case "badger":
		return createBadgerBackend(ctx, cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

// decodeOptions decodes a type-specific options map into out.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// createMemoryBackend creates an in-memory backend from a list of paths.
func createMemoryBackend(options map[string]any) (backend.Backend, error) {
	// Define the configuration struct for the memory backend
	type MemoryBackendConfig struct {
		// Paths ending in "/" are directories, the rest empty files
		Paths []string `mapstructure:"paths"`
	}

	var backendCfg MemoryBackendConfig
	if err := decodeOptions(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory backend config: %w", err)
	}

	return backendMemory.NewFromPaths(backendCfg.Paths), nil
}

// createLocalBackend creates a backend serving a local directory.
func createLocalBackend(options map[string]any) (backend.Backend, error) {
	var backendCfg backendLocal.Config
	if err := decodeOptions(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("failed to decode local backend config: %w", err)
	}

	b, err := backendLocal.New(backendCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create local backend: %w", err)
	}
	return b, nil
}

// createBadgerBackend opens a badger snapshot, optionally refreshing it from
// a local directory.
func createBadgerBackend(ctx context.Context, options map[string]any) (backend.Backend, error) {
	type BadgerBackendConfig struct {
		backendBadger.Config `mapstructure:",squash"`

		// ImportRoot is a local directory copied into the snapshot at startup
		ImportRoot string `mapstructure:"import_root"`
	}

	var backendCfg BadgerBackendConfig
	if err := decodeOptions(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger backend config: %w", err)
	}
	if backendCfg.ImportRoot != "" && backendCfg.ReadOnly {
		return nil, fmt.Errorf("badger backend: import_root cannot be used with read_only")
	}

	b, err := backendBadger.New(ctx, backendCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger backend: %w", err)
	}

	if backendCfg.ImportRoot != "" {
		src, err := backendLocal.New(backendLocal.Config{Root: backendCfg.ImportRoot})
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("badger backend: %w", err)
		}
		if _, err := b.Import(ctx, src, "/"); err != nil {
			_ = b.Close()
			return nil, err
		}
	}

	return b, nil
}

// createS3Backend creates an S3-based backend.
func createS3Backend(ctx context.Context, options map[string]any) (backend.Backend, error) {
	// Define the configuration struct for the S3 backend
	type S3BackendConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		PageSize        int32  `mapstructure:"page_size"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	// Decode the options into the config struct
	var backendCfg S3BackendConfig
	if err := decodeOptions(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 backend config: %w", err)
	}

	// Validate required fields
	if backendCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 backend: bucket is required")
	}

	if backendCfg.Region == "" {
		return nil, fmt.Errorf("S3 backend: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	// Set region
	configOptions = append(configOptions, awsConfig.WithRegion(backendCfg.Region))

	// Set credentials if provided, otherwise use default credential chain
	if backendCfg.AccessKeyID != "" && backendCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			backendCfg.AccessKeyID,
			backendCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Listings are cheap to retry
	maxRetries := backendCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	// Load AWS config
	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Custom endpoint for MinIO, Localstack, etc.
		if backendCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(backendCfg.Endpoint)
			// Force path-style addressing for compatibility with MinIO/Localstack
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Backend
	// ========================================================================

	b, err := backendS3.New(backendS3.Config{
		Client:    client,
		Bucket:    backendCfg.Bucket,
		KeyPrefix: backendCfg.KeyPrefix,
		PageSize:  backendCfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 backend: %w", err)
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, prefix=%s",
		backendCfg.Bucket, backendCfg.Region, backendCfg.KeyPrefix)

	return b, nil
}

// CreateMountEntries creates the backends declared in the configuration and
// describes how each one is mounted.
//
// If any backend fails to initialize, the backends created so far are
// closed and the error is returned.
func CreateMountEntries(ctx context.Context, cfg *Config) ([]mounts.Entry, error) {
	entries := make([]mounts.Entry, 0, len(cfg.Backends))

	for i := range cfg.Backends {
		bc := &cfg.Backends[i]

		b, err := CreateBackend(ctx, bc)
		if err != nil {
			closeEntries(entries)
			return nil, fmt.Errorf("backend %q: %w", bc.Name, err)
		}

		batchSize := bc.BatchSize
		if batchSize == 0 {
			batchSize = cfg.Enumerator.BatchSize
		}

		entries = append(entries, mounts.Entry{
			Name:    bc.Name,
			Backend: b,
			Mount: backend.MountConfig{
				DisplayName: bc.DisplayName,
				Icon:        bc.Icon,
				ObjectPath:  bc.ObjectPath,
				Spec:        bc.MountSpec(),
				BatchSize:   batchSize,
			},
		})
		logger.Debug("Created %s backend %q", b.Type(), bc.Name)
	}

	return entries, nil
}

func closeEntries(entries []mounts.Entry) {
	for _, e := range entries {
		if err := e.Backend.Close(); err != nil {
			logger.Warn("Error closing backend %q: %v", e.Name, err)
		}
	}
}
