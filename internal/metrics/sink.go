package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, campaignsDispatched int, err error)

	// Executor metrics
	RunCompleted(outcome string, duration time.Duration)
	ApplicationRecorded(outcome string)
	RunsInFlightIncr()
	RunsInFlightDecr()

	// Discovery metrics
	DiscoveryCompleted(duration time.Duration, novelPostings int, err error)
	SourceSearchCompleted(source string, err error)

	// Trigger bus metrics
	BufferSizeUpdate(size int)
	EmitError()

	// Quota metrics
	QuotaDenied()

	// Reconciler metrics
	StuckCampaignsUpdate(count int)
}

// Outcome constants for RunCompleted.
const (
	RunOutcomeSuccess   = "success"
	RunOutcomeError     = "error"
	RunOutcomeCancelled = "cancelled"
)
