// Package reconciler closes out orphaned run records.
//
// A run is orphaned when it is still pending or running in the store long
// after it was created, which only happens when the process crashed or
// was killed mid-run. The pipeline itself never leaves runs open: every
// live run reaches a terminal status. The reconciler periodically marks
// such leftovers failed so the run history stays truthful.
//
// Idempotency is guaranteed by the store's terminal state guard: if a run
// finished normally between the scan and the update, the update is denied
// and safely ignored.
package reconciler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/han0110/zkevm-chain/internal/domain"
	"github.com/han0110/zkevm-chain/internal/pipeline"
)

// Store defines the interface for finding and closing orphaned runs.
type Store interface {
	GetOrphanedRuns(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.PipelineRun, error)
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus, failedStage string) error
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a non-terminal run is considered
	// orphaned. Must comfortably exceed the longest plausible run.
	// Default: 2 hours.
	Threshold time.Duration

	// BatchSize is the maximum number of orphans to process per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 2 * time.Hour,
		BatchSize: 100,
	}
}

// Reconciler detects orphaned runs and marks them failed.
type Reconciler struct {
	config Config
	store  Store
	clock  func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store) *Reconciler {
	return &Reconciler{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithClock overrides the time source. Used in tests.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	orphans, err := r.store.GetOrphanedRuns(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch orphans: %v", err)
		return
	}

	if len(orphans) == 0 {
		return
	}

	log.Printf("reconciler: found %d orphaned runs", len(orphans))

	closed := 0
	for _, run := range orphans {
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, closed %d/%d orphans", closed, len(orphans))
			return
		}

		err := r.store.UpdateRunStatus(ctx, run.ID, domain.RunStatusFailed, "")
		switch {
		case err == nil:
			closed++
		case errors.Is(err, pipeline.ErrStatusTransitionDenied):
			// The run finished normally after the scan. Nothing to do.
		default:
			log.Printf("reconciler: run=%s failed to close: %v", run.ID, err)
		}
	}

	if closed > 0 {
		log.Printf("reconciler: closed %d orphaned runs", closed)
	}
}
