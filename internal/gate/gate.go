// Package gate decides whether a trigger event admits a pipeline run.
//
// The gate is a filter, not a failure path: rejection is silent, creates
// no run and has no side effects.
package gate

import (
	"github.com/han0110/zkevm-chain/internal/domain"
)

// AutogenLabel is the pull request label that authorizes regeneration.
const AutogenLabel = "allow-autogen"

var admittedActions = map[domain.PullRequestAction]bool{
	domain.PRActionOpened:      true,
	domain.PRActionReopened:    true,
	domain.PRActionSynchronize: true,
	domain.PRActionLabeled:     true,
}

type Gate struct {
	label string
}

func New() *Gate {
	return &Gate{label: AutogenLabel}
}

// WithLabel overrides the required label. Used in tests.
func (g *Gate) WithLabel(label string) *Gate {
	g.label = label
	return g
}

// Admit reports whether the event authorizes a run. Manual invocations are
// always admitted. Pull request events are admitted only for a qualifying
// action when the label set contains the autogen label.
func (g *Gate) Admit(event domain.TriggerEvent) bool {
	switch event.Kind {
	case domain.EventKindManual:
		return true
	case domain.EventKindPullRequest:
		return admittedActions[event.Action] && event.HasLabel(g.label)
	default:
		return false
	}
}
