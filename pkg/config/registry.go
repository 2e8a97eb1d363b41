package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittovfs/internal/logger"
	eventsredis "github.com/marmos91/dittovfs/pkg/events/redis"
	"github.com/marmos91/dittovfs/pkg/registry"
	"github.com/redis/go-redis/v9"
)

// RegistryResult is the mount registry and the listeners attached to it.
type RegistryResult struct {
	Registry *registry.Registry

	// Publisher fans events out to Redis (nil if disabled)
	Publisher *eventsredis.Publisher

	redis       redis.UniversalClient
	unsubscribe func()
}

// Close detaches the listeners and releases their connections.
func (r *RegistryResult) Close() error {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	if r.Publisher != nil {
		if err := r.Publisher.Close(); err != nil {
			return err
		}
	}
	if r.redis != nil {
		return r.redis.Close()
	}
	return nil
}

// InitializeRegistry creates the mount registry shared by the daemon's
// adapters.
//
// When events.redis is enabled, a Redis publisher is subscribed to the
// registry so every mounted/unmounted event is also published on the
// configured channel.
//
// Parameters:
//   - ctx: Context for connecting to Redis
//   - cfg: Complete configuration loaded from config file
//
// Returns:
//   - *RegistryResult: The registry and its listeners; Close releases them
//   - error: If the event fan-out cannot be set up
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	res, err := config.InitializeRegistry(ctx, cfg)
//	if err != nil {
//	    log.Fatalf("Failed to initialize registry: %v", err)
//	}
//	defer res.Close()
func InitializeRegistry(ctx context.Context, cfg *Config) (*RegistryResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	logger.Debug("Initializing registry from configuration")

	res := &RegistryResult{Registry: registry.NewRegistry()}

	if !cfg.Events.Redis.Enabled {
		return res, nil
	}

	rdb, err := eventsredis.NewClient(ctx, cfg.Events.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to set up event fan-out: %w", err)
	}
	res.redis = rdb
	res.Publisher = eventsredis.NewPublisher(rdb, cfg.Events.Redis.Channel)
	res.unsubscribe = res.Registry.Subscribe(res.Publisher)

	logger.Info("Publishing mount events to Redis %s on channel %s",
		cfg.Events.Redis.Address, res.Publisher.Channel())
	return res, nil
}
