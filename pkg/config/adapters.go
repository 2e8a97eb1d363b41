package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittovfs/pkg/adapter"
	"github.com/marmos91/dittovfs/pkg/adapter/mounts"
	"github.com/marmos91/dittovfs/pkg/adapter/tracker"
)

// CreateAdapters creates the daemon's adapters from the configuration.
//
// The mount tracker always runs on the shared connection. When backends are
// configured, a mounts adapter serves them, each on a connection of its own
// opened through b.Dial.
//
// Parameters:
//   - ctx: Context for backend initialization
//   - cfg: The complete DittoVFS configuration
//   - b: Bus connections created by CreateBus
//   - m: Metrics collectors created by InitializeMetrics
//
// Returns:
//   - []adapter.Adapter: Adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(ctx context.Context, cfg *Config, b *BusResult, m *MetricsResult) ([]adapter.Adapter, error) {
	if b == nil || b.Conn == nil {
		return nil, fmt.Errorf("no bus connection")
	}
	if m == nil {
		m = &MetricsResult{}
	}

	adapters := []adapter.Adapter{
		tracker.New(b.Conn, cfg.Tracker, m.Tracker),
	}

	if len(cfg.Backends) > 0 {
		entries, err := CreateMountEntries(ctx, cfg)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, mounts.New(b.Dial, entries, mounts.Config{
			TrackerName:     cfg.Tracker.BusName,
			TrackerPath:     cfg.Tracker.ObjectPath,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, m.Backend))
	}

	return adapters, nil
}
