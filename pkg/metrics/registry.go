// Package metrics defines the metric sinks of the mount tracker, the client
// enumerators and the served backends, and owns the process-wide Prometheus
// registry they report to.
//
// Every sink has a no-op implementation, used whenever InitRegistry was not
// called. The Prometheus-backed sinks live in pkg/metrics/prometheus:
//
//	metrics.InitRegistry()
//	tracker := prometheus.NewTrackerMetrics()
//	reg.SetMetrics(tracker)
package metrics

import (
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every metric name of the daemon.
const Namespace = "dittovfs"

// Subsystems are the metric groups of the daemon, in display order.
var Subsystems = []string{"tracker", "enumerator", "backend"}

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors already registered. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Family describes one DittoVFS metric family currently exposed.
type Family struct {
	Subsystem string
	Name      string
	Help      string
	Type      string
	Series    int
}

// Families gathers the registry and returns the families that belong to one
// of the Subsystems, ordered by subsystem and then by name. Vectors that
// have not recorded a sample yet are not exposed and so not returned.
//
// Returns nil when metrics are disabled.
func Families() ([]Family, error) {
	reg := GetRegistry()
	if reg == nil {
		return nil, nil
	}

	gathered, err := reg.Gather()
	if err != nil {
		return nil, err
	}

	var out []Family
	for _, mf := range gathered {
		rest, ok := strings.CutPrefix(mf.GetName(), Namespace+"_")
		if !ok {
			continue
		}
		sub, _, _ := strings.Cut(rest, "_")
		if !slices.Contains(Subsystems, sub) {
			continue
		}
		out = append(out, Family{
			Subsystem: sub,
			Name:      mf.GetName(),
			Help:      mf.GetHelp(),
			Type:      strings.ToLower(mf.GetType().String()),
			Series:    len(mf.GetMetric()),
		})
	}

	slices.SortStableFunc(out, func(a, b Family) int {
		return slices.Index(Subsystems, a.Subsystem) - slices.Index(Subsystems, b.Subsystem)
	})
	return out, nil
}
