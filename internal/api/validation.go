package api

import (
	"fmt"
	"strings"
)

func validateTrigger(req TriggerRequest) error {
	if req.Ref == "" {
		return fmt.Errorf("ref is required")
	}
	if strings.ContainsAny(req.Ref, " \t\n") {
		return fmt.Errorf("ref must not contain whitespace")
	}
	return nil
}

func validateWebhook(payload pullRequestPayload) error {
	if payload.Action == "" {
		return fmt.Errorf("action is required")
	}
	if payload.PullRequest.Number <= 0 {
		return fmt.Errorf("pull_request.number is required")
	}
	if payload.PullRequest.Head.Ref == "" {
		return fmt.Errorf("pull_request.head.ref is required")
	}
	return nil
}
