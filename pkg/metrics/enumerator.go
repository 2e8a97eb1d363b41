package metrics

// Completion outcomes reported by the enumerator.
const (
	OutcomeSuccess   = "success"
	OutcomeDone      = "done"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// EnumeratorMetrics provides observability for client enumerators.
//
// Implementations are optional: enumerators created without metrics use
// the no-op implementation.
type EnumeratorMetrics interface {
	// RecordBatch records one GotInfo message with the number of entries
	// accepted and the number of malformed records skipped.
	RecordBatch(entries, malformed int)

	// RecordCompletion records a finished asynchronous request.
	//
	// Parameters:
	//   - outcome: one of the Outcome* constants
	//   - entries: number of entries handed to the caller
	RecordCompletion(outcome string, entries int)

	// AddOpenEnumerators adjusts the number of live enumerators by delta.
	AddOpenEnumerators(delta int)
}

// NewNoopEnumeratorMetrics returns an EnumeratorMetrics that records nothing.
func NewNoopEnumeratorMetrics() EnumeratorMetrics {
	return noopEnumeratorMetrics{}
}

type noopEnumeratorMetrics struct{}

func (noopEnumeratorMetrics) RecordBatch(entries, malformed int)           {}
func (noopEnumeratorMetrics) RecordCompletion(outcome string, entries int) {}
func (noopEnumeratorMetrics) AddOpenEnumerators(delta int)                 {}
