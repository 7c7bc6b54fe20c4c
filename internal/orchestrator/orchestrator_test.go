package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/han0110/zkevm-chain/internal/coordinator"
	"github.com/han0110/zkevm-chain/internal/domain"
	"github.com/han0110/zkevm-chain/internal/gate"
	"github.com/han0110/zkevm-chain/internal/transport/channel"
)

// fakeRunner records executed runs; block makes Execute wait for its
// run context so a later event can preempt it.
type fakeRunner struct {
	mu    sync.Mutex
	runs  []domain.PipelineRun
	block bool

	started chan uuid.UUID
}

func newFakeRunner(block bool) *fakeRunner {
	return &fakeRunner{block: block, started: make(chan uuid.UUID, 16)}
}

func (r *fakeRunner) Execute(ctx context.Context, run *domain.PipelineRun) error {
	r.started <- run.ID
	if r.block {
		<-ctx.Done()
		run.Status = domain.RunStatusCancelled
		r.remember(*run)
		return ctx.Err()
	}
	run.Status = domain.RunStatusSucceeded
	r.remember(*run)
	return nil
}

func (r *fakeRunner) remember(run domain.PipelineRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

func (r *fakeRunner) executed() []domain.PipelineRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PipelineRun(nil), r.runs...)
}

type fakeStore struct {
	mu      sync.Mutex
	created []domain.PipelineRun
	updates []domain.RunStatus
}

func (s *fakeStore) CreateRun(ctx context.Context, run domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, run)
	return nil
}

func (s *fakeStore) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus, failedStage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, status)
	return nil
}

func prEvent(prNumber int, labels ...string) domain.TriggerEvent {
	return domain.TriggerEvent{
		ID:         uuid.New(),
		Kind:       domain.EventKindPullRequest,
		Action:     domain.PRActionSynchronize,
		Labels:     labels,
		PRNumber:   prNumber,
		Ref:        "refs/heads/main",
		ReceivedAt: time.Now().UTC(),
	}
}

func newTestOrchestrator(runner Runner) *Orchestrator {
	return New(Config{Workflow: "autogen"}, gate.New(), coordinator.New(), runner)
}

func runUntilDone(t *testing.T, o *Orchestrator, bus *channel.EventBus) (cancel func(), done chan struct{}) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done = make(chan struct{})
	go func() {
		o.Run(ctx, bus.Channel())
		close(done)
	}()
	return stop, done
}

func TestRun_RejectedEventCreatesNoRun(t *testing.T) {
	runner := newFakeRunner(false)
	store := &fakeStore{}
	o := newTestOrchestrator(runner).WithStore(store)
	bus := channel.NewEventBus(4)

	cancel, done := runUntilDone(t, o, bus)
	defer func() { cancel(); <-done }()

	// Missing the authorizing label.
	if err := bus.Emit(context.Background(), prEvent(12, "bug")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case id := <-runner.started:
		t.Fatalf("run %s started for rejected event", id)
	case <-time.After(100 * time.Millisecond):
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.created) != 0 {
		t.Errorf("persisted %d runs for rejected event, want 0", len(store.created))
	}
}

func TestRun_AdmittedEventExecutesRun(t *testing.T) {
	runner := newFakeRunner(false)
	store := &fakeStore{}
	o := newTestOrchestrator(runner).WithStore(store)
	bus := channel.NewEventBus(4)

	cancel, done := runUntilDone(t, o, bus)
	defer func() { cancel(); <-done }()

	event := prEvent(12, gate.AutogenLabel)
	if err := bus.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for run to start")
	}

	deadline := time.After(2 * time.Second)
	for len(runner.executed()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for run to finish")
		case <-time.After(10 * time.Millisecond):
		}
	}

	run := runner.executed()[0]
	if run.EventID != event.ID {
		t.Errorf("run event = %s, want %s", run.EventID, event.ID)
	}
	if want := domain.GroupKeyFor("autogen", event.Ref, event.PRNumber); run.GroupKey != want {
		t.Errorf("group key = %s, want %s", run.GroupKey, want)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.created) != 1 {
		t.Errorf("persisted %d runs, want 1", len(store.created))
	}
}

func TestRun_NewerEventPreemptsSameGroup(t *testing.T) {
	runner := newFakeRunner(true)
	o := newTestOrchestrator(runner)
	bus := channel.NewEventBus(4)

	cancel, done := runUntilDone(t, o, bus)
	defer func() { cancel(); <-done }()

	// Two events for the same pull request: the second must preempt the first.
	if err := bus.Emit(context.Background(), prEvent(7, gate.AutogenLabel)); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	first := <-runner.started

	if err := bus.Emit(context.Background(), prEvent(7, gate.AutogenLabel)); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case second := <-runner.started:
		if second == first {
			t.Fatal("same run started twice")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second run never started; first was not preempted")
	}

	executed := runner.executed()
	if len(executed) == 0 || executed[0].Status != domain.RunStatusCancelled {
		t.Errorf("first run status = %v, want cancelled before second started", executed)
	}
}

func TestRun_DistinctGroupsRunConcurrently(t *testing.T) {
	runner := newFakeRunner(true)
	o := newTestOrchestrator(runner)
	bus := channel.NewEventBus(4)

	cancel, done := runUntilDone(t, o, bus)

	if err := bus.Emit(context.Background(), prEvent(1, gate.AutogenLabel)); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := bus.Emit(context.Background(), prEvent(2, gate.AutogenLabel)); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for concurrent runs to start")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_ChannelCloseStopsLoop(t *testing.T) {
	runner := newFakeRunner(false)
	o := newTestOrchestrator(runner)
	bus := channel.NewEventBus(4)

	_, done := runUntilDone(t, o, bus)
	bus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
}

func TestRun_ManualEventAlwaysAdmitted(t *testing.T) {
	runner := newFakeRunner(false)
	o := newTestOrchestrator(runner)
	bus := channel.NewEventBus(4)

	cancel, done := runUntilDone(t, o, bus)
	defer func() { cancel(); <-done }()

	event := domain.TriggerEvent{
		ID:         uuid.New(),
		Kind:       domain.EventKindManual,
		Ref:        "refs/heads/main",
		ReceivedAt: time.Now().UTC(),
	}
	if err := bus.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("manual event was not admitted")
	}
}
