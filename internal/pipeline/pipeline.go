// Package pipeline drives one admitted run through its fixed stage
// sequence: wake the build host, reset the workspace, build the toolchain
// image, execute the generation stages fail-fast, commit the results.
//
// Cleanup is bound to every exit path of the interval that starts at the
// build stage: once the pre-build clean has run, the post-run clean is
// guaranteed regardless of which stage fails or whether the run is
// preempted. A wake timeout happens before any resource is acquired, so
// no cleanup runs for it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/han0110/zkevm-chain/internal/domain"
)

// StageError reports a build or generation stage that exited non-zero or
// could not be executed. Fatal to the run; all later generation and
// commit stages are skipped.
type StageError struct {
	Stage    string
	ExitCode int
	Err      error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s: exit code %d", e.Stage, e.ExitCode)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// cleanupTimeout bounds the post-run clean, which runs on a fresh context
// because the run's own context may already be cancelled.
const cleanupTimeout = 5 * time.Minute

// ErrStatusTransitionDenied is returned by stores when a status update
// would regress a run out of a terminal state (succeeded/failed/cancelled).
var ErrStatusTransitionDenied = errors.New("status transition denied: run already in terminal state")

type Waker interface {
	EnsureReady(ctx context.Context) error
}

type Cleaner interface {
	Clean(ctx context.Context)
}

type Executor interface {
	BuildImage(ctx context.Context) error
	// RunStage returns the stage exit code; a non-nil error means the
	// stage could not be executed at all.
	RunStage(ctx context.Context, stage domain.Stage) (int, error)
}

type Committer interface {
	// CommitChanges commits working-tree changes, reporting whether a
	// commit was created. A clean tree is a successful no-op.
	CommitChanges(ctx context.Context) (bool, error)
}

// Store persists run bookkeeping. Persistence failures are logged and
// never fail the run.
type Store interface {
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus, failedStage string) error
	InsertStageResult(ctx context.Context, runID uuid.UUID, result domain.StageResult) error
}

// MetricsSink records pipeline metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RunStarted()
	RunCompleted(status domain.RunStatus, duration time.Duration)
	StageCompleted(stage string, success bool, duration time.Duration)
	WakeCompleted(duration time.Duration, err error)
}

type Config struct {
	// EVMOnly restricts super-circuit verifier generation to the EVM target.
	EVMOnly bool
}

type Runner struct {
	config   Config
	waker    Waker
	cleaner  Cleaner
	executor Executor
	commit   Committer
	store    Store       // optional, nil = disabled
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
	stages   []domain.Stage
}

func NewRunner(config Config, waker Waker, cleaner Cleaner, executor Executor, commit Committer) *Runner {
	return &Runner{
		config:   config,
		waker:    waker,
		cleaner:  cleaner,
		executor: executor,
		commit:   commit,
		clock:    time.Now,
		stages:   domain.GenerationStages(config.EVMOnly),
	}
}

// WithStore attaches a persistence store to the runner.
func (r *Runner) WithStore(store Store) *Runner {
	r.store = store
	return r
}

// WithMetrics attaches a metrics sink to the runner.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// WithClock overrides the time source. Used in tests.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// WithStages overrides the generation sequence. Used in tests.
func (r *Runner) WithStages(stages []domain.Stage) *Runner {
	r.stages = stages
	return r
}

// Execute runs the whole pipeline for run. The run is mutated in place:
// status, stage results and failing stage. The returned error classifies
// the failure (waker.ErrRunnerUnavailable, *StageError,
// gitrepo.ErrCommitFailed, context.Canceled); nil means the run succeeded.
func (r *Runner) Execute(ctx context.Context, run *domain.PipelineRun) error {
	run.Status = domain.RunStatusRunning
	run.StartedAt = r.clock().UTC()
	r.persistStatus(ctx, run)
	if r.metrics != nil {
		r.metrics.RunStarted()
	}

	wakeStart := r.clock()
	if err := r.waker.EnsureReady(ctx); err != nil {
		if r.metrics != nil {
			r.metrics.WakeCompleted(r.clock().Sub(wakeStart), err)
		}
		if errors.Is(err, context.Canceled) {
			r.finish(run, domain.RunStatusCancelled, "")
			return err
		}
		// No workspace or build resources were allocated yet, so no
		// cleanup runs on this path.
		log.Printf("pipeline: run=%s wake failed: %v", run.ID, err)
		r.finish(run, domain.RunStatusFailed, "")
		return err
	}
	if r.metrics != nil {
		r.metrics.WakeCompleted(r.clock().Sub(wakeStart), nil)
	}

	// Resource acquisition starts here: pre-build clean now, post-run
	// clean guaranteed on every exit path below.
	r.cleaner.Clean(ctx)
	defer func() {
		cleanCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		r.cleaner.Clean(cleanCtx)
	}()

	if err := r.runBuild(ctx, run); err != nil {
		if errors.Is(err, context.Canceled) {
			r.finish(run, domain.RunStatusCancelled, "")
			return err
		}
		r.finish(run, domain.RunStatusFailed, domain.StageBuildToolchain)
		return err
	}

	for _, stage := range r.stages {
		// Preemption between stages: never start another stage for a
		// cancelled run (prevent-further-stages, no mid-stage kill).
		if ctx.Err() != nil {
			r.finish(run, domain.RunStatusCancelled, "")
			return ctx.Err()
		}

		if err := r.runStage(ctx, run, stage); err != nil {
			if errors.Is(err, context.Canceled) {
				r.finish(run, domain.RunStatusCancelled, "")
				return err
			}
			log.Printf("pipeline: run=%s %v, skipping remaining stages", run.ID, err)
			r.finish(run, domain.RunStatusFailed, stage.Name)
			return err
		}
	}

	if ctx.Err() != nil {
		r.finish(run, domain.RunStatusCancelled, "")
		return ctx.Err()
	}

	if _, err := r.commit.CommitChanges(ctx); err != nil {
		log.Printf("pipeline: run=%s commit failed: %v", run.ID, err)
		r.finish(run, domain.RunStatusFailed, domain.StageCommit)
		return err
	}

	r.finish(run, domain.RunStatusSucceeded, "")
	return nil
}

func (r *Runner) runBuild(ctx context.Context, run *domain.PipelineRun) error {
	startedAt := r.clock().UTC()
	err := r.executor.BuildImage(ctx)
	finishedAt := r.clock().UTC()

	result := domain.StageResult{
		Stage:      domain.StageBuildToolchain,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	if err != nil {
		result.ExitCode = 1
	}
	r.record(ctx, run, result)

	if err != nil {
		return &StageError{Stage: domain.StageBuildToolchain, ExitCode: 1, Err: err}
	}
	return nil
}

func (r *Runner) runStage(ctx context.Context, run *domain.PipelineRun, stage domain.Stage) error {
	startedAt := r.clock().UTC()
	exitCode, err := r.executor.RunStage(ctx, stage)
	finishedAt := r.clock().UTC()

	if err != nil && errors.Is(err, context.Canceled) {
		return err
	}

	if err != nil && exitCode == 0 {
		// The engine could not run the stage; treat as failure.
		exitCode = 1
	}

	r.record(ctx, run, domain.StageResult{
		Stage:      stage.Name,
		ExitCode:   exitCode,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	})

	if err != nil || exitCode != 0 {
		return &StageError{Stage: stage.Name, ExitCode: exitCode, Err: err}
	}
	return nil
}

func (r *Runner) record(ctx context.Context, run *domain.PipelineRun, result domain.StageResult) {
	run.StageResults = append(run.StageResults, result)

	if r.metrics != nil {
		r.metrics.StageCompleted(result.Stage, result.Success(), result.FinishedAt.Sub(result.StartedAt))
	}
	if r.store != nil {
		if err := r.store.InsertStageResult(ctx, run.ID, result); err != nil {
			log.Printf("pipeline: run=%s failed to record stage %s: %v", run.ID, result.Stage, err)
		}
	}
}

func (r *Runner) finish(run *domain.PipelineRun, status domain.RunStatus, failedStage string) {
	run.Status = status
	run.FailedStage = failedStage
	run.FinishedAt = r.clock().UTC()

	if r.metrics != nil {
		r.metrics.RunCompleted(status, run.FinishedAt.Sub(run.StartedAt))
	}

	// The run context may be cancelled by now; bookkeeping still has to land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.persistStatus(ctx, run)

	log.Printf("pipeline: run=%s finished status=%s failed_stage=%q duration=%s",
		run.ID, status, failedStage, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
}

func (r *Runner) persistStatus(ctx context.Context, run *domain.PipelineRun) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateRunStatus(ctx, run.ID, run.Status, run.FailedStage); err != nil {
		log.Printf("pipeline: run=%s failed to persist status %s: %v", run.ID, run.Status, err)
	}
}
