package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                           {}
func (n *NoopSink) TickCompleted(duration time.Duration, campaignsDispatched int, e error) {}
func (n *NoopSink) RunCompleted(outcome string, duration time.Duration)                    {}
func (n *NoopSink) ApplicationRecorded(outcome string)                                     {}
func (n *NoopSink) RunsInFlightIncr()                                                      {}
func (n *NoopSink) RunsInFlightDecr()                                                      {}
func (n *NoopSink) DiscoveryCompleted(duration time.Duration, novelPostings int, e error)  {}
func (n *NoopSink) SourceSearchCompleted(source string, err error)                         {}
func (n *NoopSink) BufferSizeUpdate(size int)                                              {}
func (n *NoopSink) EmitError()                                                             {}
func (n *NoopSink) QuotaDenied()                                                           {}
func (n *NoopSink) StuckCampaignsUpdate(count int)                                         {}
