package waker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/han0110/zkevm-chain/internal/domain"
	"github.com/han0110/zkevm-chain/internal/testutil"
)

// fakeControl scripts the instance state transitions per describe call.
type fakeControl struct {
	mu       sync.Mutex
	states   []domain.RunnerState
	index    int
	starts   int
	startErr error
	stateErr error
	onStart  func()
}

func (c *fakeControl) InstanceState(ctx context.Context, instanceID string) (domain.RunnerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stateErr != nil {
		return domain.RunnerStateUnreachable, c.stateErr
	}
	if c.index < len(c.states) {
		s := c.states[c.index]
		c.index++
		return s, nil
	}
	if len(c.states) == 0 {
		return domain.RunnerStateAsleep, nil
	}
	return c.states[len(c.states)-1], nil
}

func (c *fakeControl) StartInstance(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.onStart != nil {
		c.onStart()
	}
	return c.startErr
}

func (c *fakeControl) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

func newTestWaker(control CloudControl) *Waker {
	return New(Config{
		InstanceID:   "i-0123456789abcdef0",
		WakeTimeout:  DefaultWakeTimeout,
		PollInterval: time.Millisecond,
	}, control)
}

func TestWaker_AlreadyReadyIsNoop(t *testing.T) {
	control := &fakeControl{states: []domain.RunnerState{domain.RunnerStateReady}}
	w := newTestWaker(control)

	if err := w.EnsureReady(testutil.TestContext(t)); err != nil {
		t.Fatalf("EnsureReady failed: %v", err)
	}
	if control.startCount() != 0 {
		t.Errorf("StartInstance called %d times for ready host, want 0", control.startCount())
	}
}

func TestWaker_WakesAsleepHost(t *testing.T) {
	control := &fakeControl{states: []domain.RunnerState{
		domain.RunnerStateAsleep,
		domain.RunnerStateWaking,
		domain.RunnerStateWaking,
		domain.RunnerStateReady,
	}}
	w := newTestWaker(control)

	if err := w.EnsureReady(testutil.TestContext(t)); err != nil {
		t.Fatalf("EnsureReady failed: %v", err)
	}
	if control.startCount() != 1 {
		t.Errorf("StartInstance called %d times, want 1", control.startCount())
	}
}

func TestWaker_TimeoutReturnsRunnerUnavailable(t *testing.T) {
	control := &fakeControl{states: []domain.RunnerState{domain.RunnerStateWaking}}
	clock := testutil.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	w := New(Config{
		InstanceID:   "i-0123456789abcdef0",
		WakeTimeout:  DefaultWakeTimeout,
		PollInterval: time.Millisecond,
	}, control).WithClock(clock.Now)

	// First poll happens before the deadline check advances; push the
	// clock past the wake timeout so the next poll gives up.
	clock.Advance(DefaultWakeTimeout + time.Second)

	err := w.EnsureReady(testutil.TestContext(t))
	if !errors.Is(err, ErrRunnerUnavailable) {
		t.Fatalf("EnsureReady error = %v, want ErrRunnerUnavailable", err)
	}
}

func TestWaker_UnreachableHostFails(t *testing.T) {
	control := &fakeControl{states: []domain.RunnerState{
		domain.RunnerStateWaking,
		domain.RunnerStateUnreachable,
	}}
	w := newTestWaker(control)

	err := w.EnsureReady(testutil.TestContext(t))
	if !errors.Is(err, ErrRunnerUnavailable) {
		t.Fatalf("EnsureReady error = %v, want ErrRunnerUnavailable", err)
	}
}

func TestWaker_CancelledWhileWaiting(t *testing.T) {
	control := &fakeControl{states: []domain.RunnerState{domain.RunnerStateWaking}}
	w := newTestWaker(control)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.EnsureReady(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("EnsureReady error = %v, want context.Canceled", err)
	}
}

func TestWaker_StartErrorPropagates(t *testing.T) {
	control := &fakeControl{
		states:   []domain.RunnerState{domain.RunnerStateAsleep},
		startErr: errors.New("not authorized"),
	}
	w := newTestWaker(control)

	if err := w.EnsureReady(testutil.TestContext(t)); err == nil {
		t.Fatal("EnsureReady should fail when the wake request fails")
	}
}

// fakeBreaker records waker outcomes.
type fakeBreaker struct {
	mu        sync.Mutex
	allowErr  error
	successes int
	failures  int
}

func (b *fakeBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowErr
}

func (b *fakeBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes++
}

func (b *fakeBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
}

func TestWaker_BreakerShortCircuits(t *testing.T) {
	control := &fakeControl{states: []domain.RunnerState{domain.RunnerStateReady}}
	breaker := &fakeBreaker{allowErr: errors.New("circuit open")}
	w := newTestWaker(control).WithBreaker(breaker)

	if err := w.EnsureReady(testutil.TestContext(t)); err == nil {
		t.Fatal("EnsureReady should fail while breaker is open")
	}
}

func TestWaker_BreakerRecordsOutcomes(t *testing.T) {
	control := &fakeControl{states: []domain.RunnerState{domain.RunnerStateReady}}
	breaker := &fakeBreaker{}
	w := newTestWaker(control).WithBreaker(breaker)

	if err := w.EnsureReady(testutil.TestContext(t)); err != nil {
		t.Fatalf("EnsureReady failed: %v", err)
	}
	if breaker.successes != 1 {
		t.Errorf("breaker successes = %d, want 1", breaker.successes)
	}
}
