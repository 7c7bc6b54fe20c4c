package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/han0110/zkevm-chain/internal/domain"
	"github.com/han0110/zkevm-chain/internal/testutil"
)

func scriptEngine(t *testing.T) *DockerEngine {
	t.Helper()
	// Script stages never touch the docker daemon, so the client can be nil.
	return &DockerEngine{
		config: Config{
			WorkspaceDir: t.TempDir(),
			EnvFile:      ".env",
			EnvTemplate:  ".env.example",
		},
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
}

func TestRunStage_ScriptSuccess(t *testing.T) {
	e := scriptEngine(t)

	code, err := e.RunStage(testutil.TestContext(t), domain.Stage{
		Name:    "script-check",
		Command: []string{"sh", "-c", "exit 0"},
		Runtime: domain.RuntimeScript,
	})
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestRunStage_ScriptNonZeroExit(t *testing.T) {
	e := scriptEngine(t)

	code, err := e.RunStage(testutil.TestContext(t), domain.Stage{
		Name:    "script-check",
		Command: []string{"sh", "-c", "exit 3"},
		Runtime: domain.RuntimeScript,
	})
	if err != nil {
		t.Fatalf("RunStage should report non-zero exit without error, got: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestRunStage_ScriptSeesStageEnv(t *testing.T) {
	e := scriptEngine(t)

	code, err := e.RunStage(testutil.TestContext(t), domain.Stage{
		Name:    "script-check",
		Command: []string{"sh", "-c", `test "$ONLY_EVM" = "true"`},
		Env:     []string{"ONLY_EVM=true"},
		Runtime: domain.RuntimeScript,
	})
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if code != 0 {
		t.Errorf("stage env not visible to script, exit code = %d", code)
	}
}

func TestRunStage_ScriptNotStartedWhenCancelled(t *testing.T) {
	e := scriptEngine(t)
	marker := filepath.Join(e.config.WorkspaceDir, "marker")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.RunStage(ctx, domain.Stage{
		Name:    "script-check",
		Command: []string{"sh", "-c", "echo ran > " + marker},
		Runtime: domain.RuntimeScript,
	}); err == nil {
		t.Fatal("RunStage should not start a stage on a cancelled context")
	}
	if _, err := os.Stat(marker); err == nil {
		t.Error("stage command ran despite cancelled context")
	}
}

func TestRunStage_StartedScriptRunsToCompletion(t *testing.T) {
	e := scriptEngine(t)
	marker := filepath.Join(e.config.WorkspaceDir, "marker")

	// Cancel shortly after the stage starts; the command must still
	// finish rather than being killed mid-write.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	code, err := e.RunStage(ctx, domain.Stage{
		Name:    "script-check",
		Command: []string{"sh", "-c", "sleep 0.3 && echo done > " + marker},
		Runtime: domain.RuntimeScript,
	})
	if err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("stage command was killed before completing")
	}
}

func TestRunStage_UnknownRuntime(t *testing.T) {
	e := scriptEngine(t)

	if _, err := e.RunStage(testutil.TestContext(t), domain.Stage{
		Name:    "script-check",
		Runtime: domain.StageRuntime("vm"),
	}); err == nil {
		t.Fatal("RunStage should reject unknown runtime")
	}
}

func TestEnsureEnvFile_CreatedFromTemplate(t *testing.T) {
	e := scriptEngine(t)
	template := filepath.Join(e.config.WorkspaceDir, e.config.EnvTemplate)
	if err := os.WriteFile(template, []byte("CHAIN_ID=99\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := e.ensureEnvFile(); err != nil {
		t.Fatalf("ensureEnvFile failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(e.config.WorkspaceDir, e.config.EnvFile))
	if err != nil {
		t.Fatalf("env file not created: %v", err)
	}
	if string(got) != "CHAIN_ID=99\n" {
		t.Errorf("env file content = %q, want template content", got)
	}
}

func TestEnsureEnvFile_ExistingFileUntouched(t *testing.T) {
	e := scriptEngine(t)
	envPath := filepath.Join(e.config.WorkspaceDir, e.config.EnvFile)
	if err := os.WriteFile(envPath, []byte("CHAIN_ID=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := e.ensureEnvFile(); err != nil {
		t.Fatalf("ensureEnvFile failed: %v", err)
	}

	got, _ := os.ReadFile(envPath)
	if string(got) != "CHAIN_ID=1\n" {
		t.Errorf("existing env file was overwritten: %q", got)
	}
}
