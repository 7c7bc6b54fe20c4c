package api

import (
	"time"

	"github.com/han0110/zkevm-chain/internal/domain"
)

type TriggerRequest struct {
	Ref string `json:"ref"`
}

type EventResponse struct {
	EventID string `json:"event_id,omitempty"`
	Status  string `json:"status"`
}

// pullRequestPayload is the subset of the source-control webhook payload
// the gate cares about.
type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"pull_request"`
}

type RunResponse struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	GroupKey    string `json:"group_key"`
	Status      string `json:"status"`
	FailedStage string `json:"failed_stage,omitempty"`

	Stages []StageResultResponse `json:"stages,omitempty"`

	CreatedAt  string `json:"created_at"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type StageResultResponse struct {
	Stage      string `json:"stage"`
	ExitCode   int    `json:"exit_code"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toRunResponse(run domain.PipelineRun) RunResponse {
	resp := RunResponse{
		ID:          run.ID.String(),
		EventID:     run.EventID.String(),
		GroupKey:    string(run.GroupKey),
		Status:      string(run.Status),
		FailedStage: run.FailedStage,
		CreatedAt:   formatTime(run.CreatedAt),
	}
	if !run.StartedAt.IsZero() {
		resp.StartedAt = formatTime(run.StartedAt)
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = formatTime(run.FinishedAt)
	}
	for _, res := range run.StageResults {
		resp.Stages = append(resp.Stages, StageResultResponse{
			Stage:      res.Stage,
			ExitCode:   res.ExitCode,
			StartedAt:  formatTime(res.StartedAt),
			FinishedAt: formatTime(res.FinishedAt),
		})
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
