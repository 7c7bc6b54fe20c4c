package workspace

import (
	"context"
	"fmt"
	"log"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// NamespaceLabel marks containers, images and volumes created by this
// service so pruning never touches unrelated runtime state.
const NamespaceLabel = "chain.zkevm.autogen.namespace"

// DockerPruner implements RuntimePruner against the local docker daemon.
type DockerPruner struct {
	cli       *client.Client
	namespace string
}

func NewDockerPruner(namespace string) (*DockerPruner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerPruner{cli: cli, namespace: namespace}, nil
}

// Prune removes stopped containers, unused images and volumes labelled
// with this environment's namespace. An empty runtime is a no-op success.
func (p *DockerPruner) Prune(ctx context.Context) error {
	args := filters.NewArgs(filters.Arg("label", NamespaceLabel+"="+p.namespace))

	var firstErr error

	if report, err := p.cli.ContainersPrune(ctx, args); err != nil {
		firstErr = fmt.Errorf("prune containers: %w", err)
	} else if len(report.ContainersDeleted) > 0 {
		log.Printf("workspace: pruned %d containers (%d bytes)", len(report.ContainersDeleted), report.SpaceReclaimed)
	}

	if report, err := p.cli.ImagesPrune(ctx, args); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("prune images: %w", err)
	} else if err == nil && len(report.ImagesDeleted) > 0 {
		log.Printf("workspace: pruned %d images (%d bytes)", len(report.ImagesDeleted), report.SpaceReclaimed)
	}

	if report, err := p.cli.VolumesPrune(ctx, args); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("prune volumes: %w", err)
	} else if err == nil && len(report.VolumesDeleted) > 0 {
		log.Printf("workspace: pruned %d volumes (%d bytes)", len(report.VolumesDeleted), report.SpaceReclaimed)
	}

	return firstErr
}
