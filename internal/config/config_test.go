package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"DATABASE_URL", "REDIS_ADDR", "HTTP_ADDR", "PORT", "WEBHOOK_SECRET",
	"WORKFLOW_NAME", "WORKSPACE_DIR", "IMAGE_TAG", "ENV_FILE", "ENV_TEMPLATE",
	"NAMESPACE", "ONLY_EVM", "REPO_CONFIG_FILE", "RUNNER_INSTANCE_ID",
	"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION",
	"WAKE_TIMEOUT", "WAKE_POLL_INTERVAL",
	"GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL", "GIT_REMOTE", "GIT_REF", "GIT_PUSH",
	"SCHEDULE_ENABLED", "SCHEDULE_EXPRESSION",
	"METRICS_ENABLED", "METRICS_PATH",
	"RECONCILE_ENABLED", "RECONCILE_INTERVAL", "RECONCILE_THRESHOLD", "RECONCILE_BATCH_SIZE",
	"EVENTBUS_BUFFER_SIZE", "CIRCUIT_BREAKER_THRESHOLD", "CIRCUIT_BREAKER_COOLDOWN",
	"LEADER_ELECTION_ENABLED", "LEADER_LOCK_KEY", "LEADER_RETRY_INTERVAL", "LEADER_HEARTBEAT_INTERVAL",
	"HTTP_SHUTDOWN_TIMEOUT", "DB_OP_TIMEOUT", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: expected :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.WorkflowName != "autogen" {
		t.Errorf("WorkflowName: expected autogen, got %q", cfg.WorkflowName)
	}
	if !cfg.EVMOnly {
		t.Error("EVMOnly: expected true by default")
	}
	if cfg.WakeTimeout != 10*time.Minute {
		t.Errorf("WakeTimeout: expected 10m, got %v", cfg.WakeTimeout)
	}
	if cfg.WakePollInterval != 15*time.Second {
		t.Errorf("WakePollInterval: expected 15s, got %v", cfg.WakePollInterval)
	}
	if !cfg.GitPush {
		t.Error("GitPush: expected true by default")
	}
	if cfg.GitRemote != "origin" {
		t.Errorf("GitRemote: expected origin, got %q", cfg.GitRemote)
	}
	if cfg.ScheduleExpression != "0 3 * * *" {
		t.Errorf("ScheduleExpression: expected nightly, got %q", cfg.ScheduleExpression)
	}
	if cfg.ReconcileThreshold != 2*time.Hour {
		t.Errorf("ReconcileThreshold: expected 2h, got %v", cfg.ReconcileThreshold)
	}
	if cfg.EventBusBufferSize != 100 {
		t.Errorf("EventBusBufferSize: expected 100, got %d", cfg.EventBusBufferSize)
	}
	if cfg.CircuitBreakerThreshold != 5 {
		t.Errorf("CircuitBreakerThreshold: expected 5, got %d", cfg.CircuitBreakerThreshold)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("ONLY_EVM", "false")
	t.Setenv("GIT_PUSH", "false")
	t.Setenv("WAKE_TIMEOUT", "20m")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")
	t.Setenv("PORT", "9090")

	cfg := Load()

	if cfg.EVMOnly {
		t.Error("EVMOnly: expected false")
	}
	if cfg.GitPush {
		t.Error("GitPush: expected false")
	}
	if cfg.WakeTimeout != 20*time.Minute {
		t.Errorf("WakeTimeout: expected 20m, got %v", cfg.WakeTimeout)
	}
	if cfg.CircuitBreakerThreshold != 0 {
		t.Errorf("CircuitBreakerThreshold: expected 0 (disabled), got %d", cfg.CircuitBreakerThreshold)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr: expected :9090 from PORT, got %q", cfg.HTTPAddr)
	}
}

func TestMaskedJSON_HidesSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://user:hunter2@db:5432/autogen")
	t.Setenv("WEBHOOK_SECRET", "whsec_supersecret")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIAEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "verysecretkey")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg := Load()
	out, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON failed: %v", err)
	}

	s := string(out)
	for _, secret := range []string{"hunter2", "whsec_supersecret", "AKIAEXAMPLE", "verysecretkey"} {
		if strings.Contains(s, secret) {
			t.Errorf("masked output leaks %q", secret)
		}
	}
	if !strings.Contains(s, "postgres://***") {
		t.Error("masked output should keep the database scheme")
	}
	if !strings.Contains(s, "eu-west-1") {
		t.Error("region is not a secret and should be visible")
	}
}
