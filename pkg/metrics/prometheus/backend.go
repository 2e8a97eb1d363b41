package prometheus

import (
	"time"

	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// backendMetrics is the Prometheus implementation of metrics.BackendMetrics.
type backendMetrics struct {
	listsTotal   *prometheus.CounterVec
	listDuration *prometheus.HistogramVec
	listEntries  *prometheus.HistogramVec
	batchesSent  *prometheus.CounterVec
}

// NewBackendMetrics creates a new Prometheus-backed BackendMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewBackendMetrics() metrics.BackendMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopBackendMetrics()
	}

	reg := metrics.GetRegistry()

	return &backendMetrics{
		listsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_backend_lists_total",
				Help: "Total number of directory listings by backend and status",
			},
			[]string{"backend", "status"},
		),
		listDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittovfs_backend_list_duration_seconds",
				Help: "Duration of directory listings in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
					30.0,  // 30s
				},
			},
			[]string{"backend"},
		),
		listEntries: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittovfs_backend_list_entries",
				Help:    "Number of entries per directory listing",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 .. 16384
			},
			[]string{"backend"},
		),
		batchesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_backend_batches_sent_total",
				Help: "Total number of GotInfo batches streamed to clients",
			},
			[]string{"backend"},
		),
	}
}

func (m *backendMetrics) RecordList(backend string, duration time.Duration, entries int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.listsTotal.WithLabelValues(backend, status).Inc()
	m.listDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if err == nil {
		m.listEntries.WithLabelValues(backend).Observe(float64(entries))
	}
}

func (m *backendMetrics) RecordBatchSent(backend string) {
	m.batchesSent.WithLabelValues(backend).Inc()
}
