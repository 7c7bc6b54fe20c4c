// Package channel provides an in-process event bus between the trigger
// surfaces (webhook, manual API, schedule) and the orchestrator.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/han0110/zkevm-chain/internal/domain"
)

// ErrBufferFull is returned when an emit cannot be accepted within the
// configured timeout. Trigger surfaces surface it to the caller instead
// of blocking request handling.
var ErrBufferFull = errors.New("event buffer full")

// MetricsSink records bus observability signals.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type Option func(*EventBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

// WithEmitTimeout bounds how long Emit blocks on a full buffer before
// giving up with ErrBufferFull. Zero means block until the context ends.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

type EventBus struct {
	ch          chan domain.TriggerEvent
	emitTimeout time.Duration
	metrics     MetricsSink // optional, nil = disabled
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch: make(chan domain.TriggerEvent, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *EventBus) Emit(ctx context.Context, event domain.TriggerEvent) error {
	var timeout <-chan time.Time
	if b.emitTimeout > 0 {
		timer := time.NewTimer(b.emitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-timeout:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *EventBus) Channel() <-chan domain.TriggerEvent {
	return b.ch
}

// Close stops the bus. Emitting after Close panics; callers must stop
// all producers first.
func (b *EventBus) Close() {
	close(b.ch)
}

// Pending reports the number of buffered, unconsumed events.
func (b *EventBus) Pending() int {
	return len(b.ch)
}
