package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.WorkspaceDir == "" {
		errs = append(errs, ValidationError{
			Field:   "WORKSPACE_DIR",
			Message: "required",
		})
	}

	if cfg.RunnerInstanceID == "" {
		errs = append(errs, ValidationError{
			Field:   "RUNNER_INSTANCE_ID",
			Message: "required",
		})
	}

	if cfg.WebhookSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "WEBHOOK_SECRET",
			Message: "required",
		})
	}

	// Static credentials are optional (the default chain applies without
	// them), but partial sets are always a mistake.
	credsSet := 0
	for _, v := range []string{cfg.AWSAccessKeyID, cfg.AWSSecretKey, cfg.AWSRegion} {
		if v != "" {
			credsSet++
		}
	}
	if credsSet != 0 && credsSet != 3 {
		errs = append(errs, ValidationError{
			Field:   "AWS_ACCESS_KEY_ID",
			Message: "AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_REGION must be set together",
		})
	}

	errs = appendDurationErrors(errs, "WAKE_TIMEOUT", cfg.WakeTimeoutStr)
	errs = appendDurationErrors(errs, "WAKE_POLL_INTERVAL", cfg.WakePollIntervalStr)
	errs = appendDurationErrors(errs, "RECONCILE_INTERVAL", cfg.ReconcileIntervalStr)
	errs = appendDurationErrors(errs, "RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr)
	errs = appendDurationErrors(errs, "CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr)
	errs = appendDurationErrors(errs, "HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr)

	if cfg.GitAuthorEmail != "" && !strings.Contains(cfg.GitAuthorEmail, "@") {
		errs = append(errs, ValidationError{
			Field:   "GIT_AUTHOR_EMAIL",
			Message: fmt.Sprintf("not an email address: %q", cfg.GitAuthorEmail),
		})
	}

	if cfg.ScheduleEnabled {
		if _, err := cron.ParseStandard(cfg.ScheduleExpression); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SCHEDULE_EXPRESSION",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if cfg.LeaderElectionEnabled && cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "LEADER_ELECTION_ENABLED",
			Message: "requires DATABASE_URL",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendDurationErrors(errs ValidationErrors, field, value string) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
	}
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}
