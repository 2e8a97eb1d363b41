package config

import (
	"fmt"

	"github.com/marmos91/dittovfs/pkg/metrics"
	promMetrics "github.com/marmos91/dittovfs/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Tracker is the metrics collector for the mount tracker (never nil, uses noop if disabled)
	Tracker metrics.TrackerMetrics

	// Enumerator is the metrics collector for client enumerators (never nil)
	Enumerator metrics.EnumeratorMetrics

	// Backend is the metrics collector for served backends (never nil)
	Backend metrics.BackendMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// Parameters:
//   - cfg: The complete DittoVFS configuration
//
// Returns:
//   - MetricsResult containing all metrics components
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		// Metrics disabled - return no-op implementations
		return &MetricsResult{
			Server:     nil,
			Tracker:    metrics.NewNoopTrackerMetrics(),
			Enumerator: metrics.NewNoopEnumeratorMetrics(),
			Backend:    metrics.NewNoopBackendMetrics(),
		}
	}

	// Initialize global Prometheus registry
	metrics.InitRegistry()

	// Create metrics HTTP server
	server := metrics.NewServer(metrics.ServerConfig{
		Address: fmt.Sprintf(":%d", cfg.Server.Metrics.Port),
	})

	return &MetricsResult{
		Server:     server,
		Tracker:    promMetrics.NewTrackerMetrics(),
		Enumerator: promMetrics.NewEnumeratorMetrics(),
		Backend:    promMetrics.NewBackendMetrics(),
	}
}
