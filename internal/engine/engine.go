// Package engine executes pipeline stages.
//
// Toolchain stages run in a fresh container from the image built by the
// build stage, with the repository tree mounted and an isolated
// environment. Script stages run as host processes directly on the
// checked-out tree. The engine reports only exit status; stage commands
// are opaque.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/han0110/zkevm-chain/internal/domain"
	"github.com/han0110/zkevm-chain/internal/workspace"
)

const containerWorkdir = "/workspace"

type Config struct {
	// WorkspaceDir is the checked-out source tree. It is the build context
	// for the toolchain image and is mounted into every stage container.
	WorkspaceDir string
	// ImageTag names the toolchain image produced by the build stage.
	ImageTag string
	// EnvFile is the environment file consumed by the image build,
	// derived from EnvTemplate when absent.
	EnvFile     string
	EnvTemplate string
	// Namespace labels everything the engine creates so cleanup can
	// prune it without touching unrelated runtime state.
	Namespace string
}

type DockerEngine struct {
	cli    *client.Client
	config Config
	stdout io.Writer
	stderr io.Writer
}

func NewDockerEngine(config Config) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerEngine{
		cli:    cli,
		config: config,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}, nil
}

// BuildImage builds the toolchain image from the workspace tree. The env
// file is created from its template when the checkout does not provide
// one. Failure is fatal to the run.
func (e *DockerEngine) BuildImage(ctx context.Context) error {
	if err := e.ensureEnvFile(); err != nil {
		return fmt.Errorf("env file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// The build context is the whole checkout; shelling out keeps the
	// daemon-side context transfer and build cache behaviour identical to
	// a manual `docker build`. A started build runs to completion (same
	// no-mid-stage-kill rule as RunStage).
	cmd := exec.Command("docker", "build",
		"--label", workspace.NamespaceLabel+"="+e.config.Namespace,
		"-t", e.config.ImageTag,
		e.config.WorkspaceDir,
	)
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %s: %w", e.config.ImageTag, err)
	}
	return nil
}

// RunStage executes one stage and returns its exit code. A non-zero exit
// code with a nil error is a clean stage failure; a non-nil error means
// the engine could not run the stage at all.
//
// ctx gates starting the stage only. A started command always runs to
// completion; run cancellation takes effect before the next stage,
// never by killing a command mid-write.
func (e *DockerEngine) RunStage(ctx context.Context, stage domain.Stage) (int, error) {
	switch stage.Runtime {
	case domain.RuntimeScript:
		return e.runScript(ctx, stage)
	case domain.RuntimeToolchain:
		return e.runContainer(ctx, stage)
	default:
		return 0, fmt.Errorf("stage %s: unknown runtime %q", stage.Name, stage.Runtime)
	}
}

func (e *DockerEngine) runContainer(ctx context.Context, stage domain.Stage) (int, error) {
	resp, err := e.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      e.config.ImageTag,
			Cmd:        stage.Command,
			Env:        stage.Env,
			WorkingDir: containerWorkdir,
			Labels:     map[string]string{workspace.NamespaceLabel: e.config.Namespace},
		},
		&container.HostConfig{
			Binds: []string{e.config.WorkspaceDir + ":" + containerWorkdir},
		},
		nil, nil, "")
	if err != nil {
		return 0, fmt.Errorf("stage %s: create container: %w", stage.Name, err)
	}
	containerID := resp.ID

	defer func() {
		// Cleanup prunes leftovers later; removal here just keeps the
		// runtime tidy between stages.
		_ = e.cli.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true})
	}()

	if err := e.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return 0, fmt.Errorf("stage %s: start container: %w", stage.Name, err)
	}

	// Wait on a background context: once started, the container runs to
	// completion even when the run has been preempted. Cancellation is
	// honoured between stages by the pipeline runner.
	statusCh, errCh := e.cli.ContainerWait(context.Background(), containerID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return 0, fmt.Errorf("stage %s: wait: %w", stage.Name, err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	// ctx may already be cancelled; the logs still belong to this stage.
	logs, err := e.cli.ContainerLogs(context.Background(), containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return exitCode, fmt.Errorf("stage %s: logs: %w", stage.Name, err)
	}
	defer logs.Close()

	if _, err := stdcopy.StdCopy(e.stdout, e.stderr, logs); err != nil {
		return exitCode, fmt.Errorf("stage %s: demux logs: %w", stage.Name, err)
	}

	return exitCode, nil
}

func (e *DockerEngine) runScript(ctx context.Context, stage domain.Stage) (int, error) {
	if len(stage.Command) == 0 {
		return 0, fmt.Errorf("stage %s: empty command", stage.Name)
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// No CommandContext: a started script runs to completion, matching
	// the container runtime's no-mid-stage-kill rule.
	cmd := exec.Command(stage.Command[0], stage.Command[1:]...)
	cmd.Dir = e.config.WorkspaceDir
	cmd.Env = append(os.Environ(), stage.Env...)
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("stage %s: %w", stage.Name, err)
}

func (e *DockerEngine) ensureEnvFile() error {
	envPath := filepath.Join(e.config.WorkspaceDir, e.config.EnvFile)
	if _, err := os.Stat(envPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	template, err := os.ReadFile(filepath.Join(e.config.WorkspaceDir, e.config.EnvTemplate))
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	return os.WriteFile(envPath, template, 0o644)
}
