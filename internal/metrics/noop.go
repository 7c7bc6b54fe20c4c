package metrics

import (
	"time"

	"github.com/han0110/zkevm-chain/internal/domain"
)

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunStarted()                                                  {}
func (n *NoopSink) RunCompleted(status domain.RunStatus, duration time.Duration) {}
func (n *NoopSink) StageCompleted(stage string, success bool, d time.Duration)   {}
func (n *NoopSink) WakeCompleted(duration time.Duration, err error)              {}
func (n *NoopSink) EventAdmitted(kind domain.EventKind)                          {}
func (n *NoopSink) EventRejected(kind domain.EventKind)                          {}
func (n *NoopSink) RunPreempted()                                                {}
func (n *NoopSink) EventsInFlightIncr()                                          {}
func (n *NoopSink) EventsInFlightDecr()                                          {}
func (n *NoopSink) CleanupCompleted(failed bool)                                 {}
func (n *NoopSink) BufferSizeUpdate(size int)                                    {}
func (n *NoopSink) EmitError()                                                   {}
