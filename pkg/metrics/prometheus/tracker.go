package prometheus

import (
	"time"

	"github.com/marmos91/dittovfs/pkg/bus"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// trackerMetrics is the Prometheus implementation of metrics.TrackerMetrics.
type trackerMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttledTotal  *prometheus.CounterVec
	activeMounts    prometheus.Gauge
	evictionsTotal  prometheus.Counter
}

// NewTrackerMetrics creates a new Prometheus-backed TrackerMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewTrackerMetrics() metrics.TrackerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopTrackerMetrics()
	}

	reg := metrics.GetRegistry()

	return &trackerMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_tracker_requests_total",
				Help: "Total number of mount tracker calls by method and status",
			},
			[]string{"method", "status", "error_name"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittovfs_tracker_request_duration_milliseconds",
				Help: "Duration of mount tracker calls in milliseconds",
				Buckets: []float64{
					0.1,  // 100us
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"method"},
		),
		throttledTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_tracker_throttled_total",
				Help: "Total number of mount tracker calls rejected by the rate limiter",
			},
			[]string{"method"},
		),
		activeMounts: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittovfs_tracker_active_mounts",
				Help: "Current number of registered mounts",
			},
		),
		evictionsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_tracker_evictions_total",
				Help: "Total number of mounts removed because their owner left the bus",
			},
		),
	}
}

func (m *trackerMetrics) RecordRequest(method string, duration time.Duration, err error) {
	status := "success"
	errorName := ""
	if err != nil {
		status = "error"
		errorName = bus.ErrorName(err)
	}

	m.requestsTotal.WithLabelValues(method, status, errorName).Inc()
	m.requestDuration.WithLabelValues(method).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *trackerMetrics) RecordThrottled(method string) {
	m.throttledTotal.WithLabelValues(method).Inc()
}

func (m *trackerMetrics) SetActiveMounts(count int) {
	m.activeMounts.Set(float64(count))
}

func (m *trackerMetrics) RecordEviction(count int) {
	m.evictionsTotal.Add(float64(count))
}
