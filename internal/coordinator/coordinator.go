// Package coordinator serializes pipeline runs per concurrency group.
//
// Each admitted event maps to a group key. At most one run per group is
// ever executing; a newer event preempts the in-flight run of its group
// (last-event-wins). Preemption is cooperative: the older run's context
// is cancelled and the coordinator waits for it to release its slot, so
// the cancelled run's cleanup always completes before the new run starts.
//
// Ordering is decided by the event arrival sequence passed to Begin, not
// by which goroutine reaches Begin first: a caller finding the slot held
// on behalf of a newer event yields with ErrSuperseded instead of
// preempting it.
package coordinator

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/han0110/zkevm-chain/internal/domain"
)

// ErrSuperseded is returned by Begin when the slot is already held by a
// run admitted for a newer event of the same group. The caller's run is
// stale and must not start.
var ErrSuperseded = errors.New("superseded by a newer event in the same group")

type slot struct {
	runID  uuid.UUID
	seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator owns the group slot map. The map is explicit state passed
// through the constructor, never package-level.
type Coordinator struct {
	mu    sync.Mutex
	slots map[domain.GroupKey]*slot
}

func New() *Coordinator {
	return &Coordinator{
		slots: make(map[domain.GroupKey]*slot),
	}
}

// Begin acquires the slot for key on behalf of runID, admitted with
// arrival sequence seq. If an older run holds the slot its context is
// cancelled and Begin blocks until that run has fully released (cleanup
// included); if a newer run holds it, Begin yields with ErrSuperseded.
// The returned context is cancelled when a later event preempts this
// run; release must be called on every exit path of the run body.
func (c *Coordinator) Begin(ctx context.Context, key domain.GroupKey, runID uuid.UUID, seq uint64) (runCtx context.Context, release func(), err error) {
	for {
		c.mu.Lock()
		current, ok := c.slots[key]
		if !ok {
			s := &slot{runID: runID, seq: seq, done: make(chan struct{})}
			runCtx, s.cancel = context.WithCancel(ctx)
			c.slots[key] = s
			c.mu.Unlock()

			var once sync.Once
			release = func() {
				once.Do(func() {
					c.mu.Lock()
					if c.slots[key] == s {
						delete(c.slots, key)
					}
					c.mu.Unlock()
					s.cancel()
					close(s.done)
				})
			}
			return runCtx, release, nil
		}

		if current.seq > seq {
			// The slot holder was admitted for a newer event; this run
			// is stale and yields rather than cancelling it.
			c.mu.Unlock()
			return nil, nil, ErrSuperseded
		}

		// Preempt the in-flight run and wait for its slot to drain.
		log.Printf("coordinator: group=%s run=%s preempts run=%s", key, runID, current.runID)
		current.cancel()
		done := current.done
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		// Loop: another waiter may have installed itself first; the
		// sequence check decides whether it is preempted or we yield.
	}
}

// Running reports whether a run currently holds the slot for key.
func (c *Coordinator) Running(key domain.GroupKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.slots[key]
	return ok
}

// ActiveRuns returns the number of groups with a run in flight.
func (c *Coordinator) ActiveRuns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
