package metrics

import "time"

// TrackerMetrics provides observability for the mount tracker.
type TrackerMetrics interface {
	// RecordRequest records a handled tracker method call.
	//
	// Parameters:
	//   - method: bus method name (e.g., "registerMount")
	//   - duration: time spent in the handler
	//   - err: error returned to the caller, nil on success
	RecordRequest(method string, duration time.Duration, err error)

	// RecordThrottled counts a call rejected by the rate limiter.
	RecordThrottled(method string)

	// SetActiveMounts updates the number of registered mounts.
	SetActiveMounts(count int)

	// RecordEviction counts mounts removed because their owner left the bus.
	RecordEviction(count int)
}

// NewNoopTrackerMetrics returns a TrackerMetrics that records nothing.
func NewNoopTrackerMetrics() TrackerMetrics {
	return noopTrackerMetrics{}
}

type noopTrackerMetrics struct{}

func (noopTrackerMetrics) RecordRequest(method string, duration time.Duration, err error) {}
func (noopTrackerMetrics) RecordThrottled(method string)                                  {}
func (noopTrackerMetrics) SetActiveMounts(count int)                                      {}
func (noopTrackerMetrics) RecordEviction(count int)                                       {}
