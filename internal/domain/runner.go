package domain

// RunnerState is the lifecycle state of the remote build host.
type RunnerState string

const (
	RunnerStateAsleep      RunnerState = "asleep"
	RunnerStateWaking      RunnerState = "waking"
	RunnerStateReady       RunnerState = "ready"
	RunnerStateUnreachable RunnerState = "unreachable"
)

// RemoteRunnerHandle identifies the remote execution host for one run.
// It is owned exclusively by the waker for the duration of that run.
type RemoteRunnerHandle struct {
	InstanceID string
	State      RunnerState
}
