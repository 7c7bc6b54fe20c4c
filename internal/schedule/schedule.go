// Package schedule emits periodic regeneration events, so artifacts are
// refreshed even when no pull request activity triggers them.
package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/han0110/zkevm-chain/internal/domain"
)

// Emitter forwards scheduled events to the orchestrator.
type Emitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

type Config struct {
	// Expression is a standard 5-field cron expression.
	Expression string
	// Ref is the source reference scheduled runs operate on.
	Ref string
}

// ValidateExpression reports whether expr is a valid cron expression.
func ValidateExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

type Scheduler struct {
	config  Config
	emitter Emitter
	clock   func() time.Time
}

func New(config Config, emitter Emitter) *Scheduler {
	return &Scheduler{
		config:  config,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Used in tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run emits an event at every firing of the schedule until ctx is
// cancelled. Emit failures are logged and skipped; the next firing is
// computed from the current time, so a missed slot is never replayed.
func (s *Scheduler) Run(ctx context.Context) error {
	sched, err := cron.ParseStandard(s.config.Expression)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.config.Expression, err)
	}

	log.Printf("schedule: started (expression=%q, ref=%s)", s.config.Expression, s.config.Ref)

	for {
		now := s.clock()
		next := sched.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("schedule: stopped")
			return nil
		case <-timer.C:
			event := s.newEvent()
			if err := s.emitter.Emit(ctx, event); err != nil {
				log.Printf("schedule: event=%s emit error: %v", event.ID, err)
				continue
			}
			log.Printf("schedule: event=%s fired", event.ID)
		}
	}
}

func (s *Scheduler) newEvent() domain.TriggerEvent {
	return domain.TriggerEvent{
		ID:         uuid.New(),
		Kind:       domain.EventKindManual,
		Ref:        s.config.Ref,
		ReceivedAt: s.clock().UTC(),
	}
}
