package prometheus

import (
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// enumeratorMetrics is the Prometheus implementation of metrics.EnumeratorMetrics.
type enumeratorMetrics struct {
	batchesTotal     prometheus.Counter
	entriesTotal     prometheus.Counter
	malformedTotal   prometheus.Counter
	completionsTotal *prometheus.CounterVec
	completionSize   prometheus.Histogram
	openEnumerators  prometheus.Gauge
}

// NewEnumeratorMetrics creates a new Prometheus-backed EnumeratorMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewEnumeratorMetrics() metrics.EnumeratorMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopEnumeratorMetrics()
	}

	reg := metrics.GetRegistry()

	return &enumeratorMetrics{
		batchesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_enumerator_batches_total",
				Help: "Total number of GotInfo batches received",
			},
		),
		entriesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_enumerator_entries_total",
				Help: "Total number of directory entries buffered",
			},
		),
		malformedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_enumerator_malformed_records_total",
				Help: "Total number of directory entry records skipped because they failed to decode",
			},
		),
		completionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_enumerator_completions_total",
				Help: "Total number of asynchronous requests completed by outcome",
			},
			[]string{"outcome"},
		),
		completionSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittovfs_enumerator_completion_entries",
				Help:    "Number of entries handed over per completed request",
				Buckets: prometheus.ExponentialBuckets(1, 4, 6), // 1 .. 1024
			},
		),
		openEnumerators: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittovfs_enumerator_open",
				Help: "Current number of open enumerators",
			},
		),
	}
}

func (m *enumeratorMetrics) RecordBatch(entries, malformed int) {
	m.batchesTotal.Inc()
	m.entriesTotal.Add(float64(entries))
	m.malformedTotal.Add(float64(malformed))
}

func (m *enumeratorMetrics) RecordCompletion(outcome string, entries int) {
	m.completionsTotal.WithLabelValues(outcome).Inc()
	m.completionSize.Observe(float64(entries))
}

func (m *enumeratorMetrics) AddOpenEnumerators(delta int) {
	m.openEnumerators.Add(float64(delta))
}
