// Package orchestrator consumes trigger events and turns admitted ones
// into pipeline runs, one goroutine per run, serialized per concurrency
// group by the coordinator.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/han0110/zkevm-chain/internal/coordinator"
	"github.com/han0110/zkevm-chain/internal/domain"
)

// ShutdownGrace bounds how long Run waits for in-flight pipeline runs
// after the loop context is cancelled. Cancelled runs still need to
// finish their post-run cleanup.
const ShutdownGrace = 2 * time.Minute

type Gatekeeper interface {
	Admit(event domain.TriggerEvent) bool
}

// Coordinator serializes runs per group. seq is the event arrival order;
// Begin yields with coordinator.ErrSuperseded when the slot belongs to a
// newer event.
type Coordinator interface {
	Begin(ctx context.Context, key domain.GroupKey, runID uuid.UUID, seq uint64) (context.Context, func(), error)
	Running(key domain.GroupKey) bool
}

type Runner interface {
	Execute(ctx context.Context, run *domain.PipelineRun) error
}

// Store persists run bookkeeping. Persistence failures are logged and
// never stop event processing.
type Store interface {
	CreateRun(ctx context.Context, run domain.PipelineRun) error
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus, failedStage string) error
}

type AnalyticsSink interface {
	Record(ctx context.Context, run domain.PipelineRun)
}

// MetricsSink records orchestrator metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EventAdmitted(kind domain.EventKind)
	EventRejected(kind domain.EventKind)
	RunPreempted()
	EventsInFlightIncr()
	EventsInFlightDecr()
}

type Config struct {
	// Workflow names this pipeline in group keys; runs of different
	// workflows never contend for a slot.
	Workflow string
}

type Orchestrator struct {
	config    Config
	gate      Gatekeeper
	coord     Coordinator
	runner    Runner
	store     Store         // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	clock     func() time.Time

	// seq counts admitted events in arrival order. Only the Run loop
	// goroutine touches it; run goroutines carry their own copy.
	seq uint64
}

func New(config Config, gate Gatekeeper, coord Coordinator, runner Runner) *Orchestrator {
	return &Orchestrator{
		config: config,
		gate:   gate,
		coord:  coord,
		runner: runner,
		clock:  time.Now,
	}
}

// WithStore attaches a persistence store to the orchestrator.
func (o *Orchestrator) WithStore(store Store) *Orchestrator {
	o.store = store
	return o
}

// WithAnalytics attaches an analytics sink to the orchestrator.
func (o *Orchestrator) WithAnalytics(sink AnalyticsSink) *Orchestrator {
	o.analytics = sink
	return o
}

// WithMetrics attaches a metrics sink to the orchestrator.
func (o *Orchestrator) WithMetrics(sink MetricsSink) *Orchestrator {
	o.metrics = sink
	return o
}

// WithClock overrides the time source. Used in tests.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Run processes events from the channel until the context is cancelled
// or the channel closes, then waits for in-flight runs to release. Run
// contexts derive from ctx, so cancelling it preempts every in-flight
// run; their cleanup still completes within the shutdown grace.
func (o *Orchestrator) Run(ctx context.Context, ch <-chan domain.TriggerEvent) {
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			o.awaitRuns(&wg)
			return
		case event, ok := <-ch:
			if !ok {
				o.awaitRuns(&wg)
				return
			}
			o.handle(ctx, &wg, event)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, wg *sync.WaitGroup, event domain.TriggerEvent) {
	if !o.gate.Admit(event) {
		log.Printf("orchestrator: event=%s kind=%s rejected", event.ID, event.Kind)
		if o.metrics != nil {
			o.metrics.EventRejected(event.Kind)
		}
		return
	}
	if o.metrics != nil {
		o.metrics.EventAdmitted(event.Kind)
	}

	run := &domain.PipelineRun{
		ID:        uuid.New(),
		EventID:   event.ID,
		GroupKey:  domain.GroupKeyFor(o.config.Workflow, event.Ref, event.PRNumber),
		Status:    domain.RunStatusPending,
		CreatedAt: o.clock().UTC(),
	}
	log.Printf("orchestrator: event=%s admitted, run=%s group=%s", event.ID, run.ID, run.GroupKey)

	if o.store != nil {
		if err := o.store.CreateRun(ctx, *run); err != nil {
			log.Printf("orchestrator: run=%s failed to persist: %v", run.ID, err)
		}
	}

	o.seq++
	seq := o.seq

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.execute(ctx, run, seq)
	}()
}

func (o *Orchestrator) execute(ctx context.Context, run *domain.PipelineRun, seq uint64) {
	if o.metrics != nil {
		o.metrics.EventsInFlightIncr()
		defer o.metrics.EventsInFlightDecr()
	}

	if o.metrics != nil && o.coord.Running(run.GroupKey) {
		o.metrics.RunPreempted()
	}

	runCtx, release, err := o.coord.Begin(ctx, run.GroupKey, run.ID, seq)
	if err != nil {
		// Superseded by a newer event, or cancelled while waiting for
		// the slot; either way the run never started.
		if errors.Is(err, coordinator.ErrSuperseded) {
			log.Printf("orchestrator: run=%s group=%s superseded before start", run.ID, run.GroupKey)
		} else {
			log.Printf("orchestrator: run=%s cancelled before start: %v", run.ID, err)
		}
		o.markCancelled(run)
		return
	}
	defer release()

	if err := o.runner.Execute(runCtx, run); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("orchestrator: run=%s failed: %v", run.ID, err)
	}

	if o.analytics != nil {
		o.analytics.Record(context.Background(), *run)
	}
}

func (o *Orchestrator) markCancelled(run *domain.PipelineRun) {
	run.Status = domain.RunStatusCancelled
	run.FinishedAt = o.clock().UTC()
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.UpdateRunStatus(ctx, run.ID, run.Status, ""); err != nil {
		log.Printf("orchestrator: run=%s failed to persist status: %v", run.ID, err)
	}
}

// awaitRuns blocks until every in-flight run has released or the
// shutdown grace expires.
func (o *Orchestrator) awaitRuns(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownGrace):
		log.Printf("orchestrator: shutdown grace expired with runs still in flight")
	}
}
