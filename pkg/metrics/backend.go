package metrics

import "time"

// BackendMetrics provides observability for backend mount objects.
type BackendMetrics interface {
	// RecordList records one directory listing.
	//
	// Parameters:
	//   - backend: backend type ("memory", "local", "s3", "badger")
	//   - duration: time taken by the listing
	//   - entries: number of entries returned
	//   - err: listing error, nil on success
	RecordList(backend string, duration time.Duration, entries int, err error)

	// RecordBatchSent counts GotInfo messages streamed to clients.
	RecordBatchSent(backend string)
}

// NewNoopBackendMetrics returns a BackendMetrics that records nothing.
func NewNoopBackendMetrics() BackendMetrics {
	return noopBackendMetrics{}
}

type noopBackendMetrics struct{}

func (noopBackendMetrics) RecordList(backend string, duration time.Duration, entries int, err error) {
}
func (noopBackendMetrics) RecordBatchSent(backend string) {}
