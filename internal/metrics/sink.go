package metrics

import (
	"time"

	"github.com/han0110/zkevm-chain/internal/domain"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Pipeline metrics
	RunStarted()
	RunCompleted(status domain.RunStatus, duration time.Duration)
	StageCompleted(stage string, success bool, duration time.Duration)
	WakeCompleted(duration time.Duration, err error)

	// Orchestrator metrics
	EventAdmitted(kind domain.EventKind)
	EventRejected(kind domain.EventKind)
	RunPreempted()
	EventsInFlightIncr()
	EventsInFlightDecr()

	// Workspace metrics
	CleanupCompleted(failed bool)

	// EventBus metrics
	BufferSizeUpdate(size int)
	EmitError()
}
