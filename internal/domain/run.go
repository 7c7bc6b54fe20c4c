package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal statuses never
// regress; stores must reject transitions out of them.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// PipelineRun tracks one admitted trigger event through the pipeline.
type PipelineRun struct {
	ID       uuid.UUID
	EventID  uuid.UUID
	GroupKey GroupKey

	Status RunStatus

	// FailedStage names the stage that caused a failed run; empty otherwise.
	FailedStage string

	StageResults []StageResult

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// StageResult records the outcome of one stage. Append-only within a run.
type StageResult struct {
	Stage      string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Success reports whether the stage exited zero.
func (r StageResult) Success() bool {
	return r.ExitCode == 0
}
