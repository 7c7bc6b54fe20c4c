// Package waker powers on the remote build host and waits for readiness.
//
// The host lifecycle is an explicit state machine:
//
//	asleep -> waking -> ready | unreachable
//
// One waker instance owns the handle for the duration of a single run.
package waker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/han0110/zkevm-chain/internal/domain"
)

// ErrRunnerUnavailable is returned when the host does not become ready
// within the wake timeout. The run fails without executing any stage.
var ErrRunnerUnavailable = errors.New("remote runner unavailable: wake timeout exceeded")

// DefaultWakeTimeout bounds the whole wake-and-poll sequence.
const DefaultWakeTimeout = 10 * time.Minute

// DefaultPollInterval is how often the host state is re-checked while waking.
const DefaultPollInterval = 15 * time.Second

// CloudControl is the external control plane for the build host.
// Implementations authenticate with supplied credentials; the waker never
// sees or logs them.
type CloudControl interface {
	// InstanceState returns the current lifecycle state of the instance.
	InstanceState(ctx context.Context, instanceID string) (domain.RunnerState, error)
	// StartInstance requests that the instance be powered on. Idempotent:
	// starting an already-running instance is a no-op.
	StartInstance(ctx context.Context, instanceID string) error
}

// Breaker short-circuits wake attempts while the host has recently
// refused to come up. Optional.
type Breaker interface {
	Allow() error
	RecordSuccess()
	RecordFailure()
}

type Config struct {
	InstanceID   string
	WakeTimeout  time.Duration // default 10m
	PollInterval time.Duration // default 15s
}

type Waker struct {
	config  Config
	control CloudControl
	breaker Breaker // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, control CloudControl) *Waker {
	if config.WakeTimeout == 0 {
		config.WakeTimeout = DefaultWakeTimeout
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &Waker{
		config:  config,
		control: control,
		clock:   time.Now,
	}
}

// WithBreaker attaches a circuit breaker to the waker.
func (w *Waker) WithBreaker(b Breaker) *Waker {
	w.breaker = b
	return w
}

// WithClock overrides the time source. Used in tests.
func (w *Waker) WithClock(clock func() time.Time) *Waker {
	w.clock = clock
	return w
}

// EnsureReady drives the host to the ready state. Already-ready hosts are
// a no-op success. Otherwise it issues a wake request and polls until the
// host reports ready, the timeout elapses (ErrRunnerUnavailable), or ctx
// is cancelled (run preempted).
func (w *Waker) EnsureReady(ctx context.Context) error {
	id := w.config.InstanceID

	if w.breaker != nil {
		if err := w.breaker.Allow(); err != nil {
			return fmt.Errorf("wake %s: %w", id, err)
		}
	}

	state, err := w.control.InstanceState(ctx, id)
	if err != nil {
		w.recordFailure()
		return fmt.Errorf("describe instance %s: %w", id, err)
	}

	if state == domain.RunnerStateReady {
		log.Printf("waker: instance=%s already ready", id)
		w.recordSuccess()
		return nil
	}

	if state == domain.RunnerStateAsleep {
		log.Printf("waker: instance=%s asleep, issuing wake request", id)
		if err := w.control.StartInstance(ctx, id); err != nil {
			w.recordFailure()
			return fmt.Errorf("start instance %s: %w", id, err)
		}
	} else {
		log.Printf("waker: instance=%s in state %s, waiting", id, state)
	}

	deadline := w.clock().Add(w.config.WakeTimeout)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if w.clock().After(deadline) {
			log.Printf("waker: instance=%s did not become ready within %s", id, w.config.WakeTimeout)
			w.recordFailure()
			return ErrRunnerUnavailable
		}

		state, err := w.control.InstanceState(ctx, id)
		if err != nil {
			// Transient describe errors are retried until the deadline.
			log.Printf("waker: instance=%s describe error: %v", id, err)
			continue
		}

		switch state {
		case domain.RunnerStateReady:
			log.Printf("waker: instance=%s ready", id)
			w.recordSuccess()
			return nil
		case domain.RunnerStateUnreachable:
			w.recordFailure()
			return fmt.Errorf("instance %s unreachable: %w", id, ErrRunnerUnavailable)
		default:
			// asleep or waking: keep polling.
		}
	}
}

func (w *Waker) recordSuccess() {
	if w.breaker != nil {
		w.breaker.RecordSuccess()
	}
}

func (w *Waker) recordFailure() {
	if w.breaker != nil {
		w.breaker.RecordFailure()
	}
}
