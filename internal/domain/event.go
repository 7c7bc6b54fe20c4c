package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	// EventKindManual is an operator-initiated regeneration request.
	EventKindManual EventKind = "manual"
	// EventKindPullRequest is a source-control pull request lifecycle change.
	EventKindPullRequest EventKind = "pull_request"
)

type PullRequestAction string

const (
	PRActionOpened      PullRequestAction = "opened"
	PRActionReopened    PullRequestAction = "reopened"
	PRActionSynchronize PullRequestAction = "synchronize"
	PRActionLabeled     PullRequestAction = "labeled"
)

// TriggerEvent is an external occurrence that may admit a pipeline run.
// Immutable once received.
type TriggerEvent struct {
	ID   uuid.UUID
	Kind EventKind

	// Pull request fields; zero values for manual events.
	Action   PullRequestAction
	Labels   []string
	PRNumber int // 0 = not a pull request

	Ref        string // source reference the run operates on
	ReceivedAt time.Time
}

// HasLabel reports whether the event carries the given label.
func (e TriggerEvent) HasLabel(name string) bool {
	for _, l := range e.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// GroupKey is the equivalence class of runs that must not overlap.
type GroupKey string

// GroupKeyFor derives the concurrency group key from the workflow identity,
// the source reference and the pull request number. Two events with equal
// keys must never execute concurrently.
func GroupKeyFor(workflow, ref string, prNumber int) GroupKey {
	if prNumber > 0 {
		return GroupKey(fmt.Sprintf("%s/%s/pr-%d", workflow, ref, prNumber))
	}
	return GroupKey(workflow + "/" + ref)
}
