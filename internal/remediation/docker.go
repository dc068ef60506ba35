package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// execAPI is the part of the Docker client used to run a command in a container.
type execAPI interface {
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Docker runs the CLI inside an already running container.
type Docker struct {
	cli         execAPI
	container   string
	binary      string
	workDir     string
	outputLimit int
}

// NewDocker creates a Docker runner using the environment's Docker settings.
func NewDocker(containerID, binary, workDir string, outputLimit int) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "container", containerID)
	return newDocker(cli, containerID, binary, workDir, outputLimit), nil
}

func newDocker(cli execAPI, containerID, binary, workDir string, outputLimit int) *Docker {
	return &Docker{cli: cli, container: containerID, binary: binary, workDir: workDir, outputLimit: outputLimit}
}

// Exec implements Runner. A non-zero exit code is an error carrying the tail
// of stderr.
func (d *Docker) Exec(ctx context.Context, prompt string) (string, error) {
	if err := validatePrompt(prompt); err != nil {
		return "", err
	}

	resp, err := d.cli.ContainerExecCreate(ctx, d.container, container.ExecOptions{
		Cmd:          command(d.binary, prompt),
		WorkingDir:   d.workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", fmt.Errorf("remediation container %s not found", d.container)
		}
		return "", fmt.Errorf("create exec: %w", err)
	}

	attachResp, err := d.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("attach exec: %w", err)
	}
	defer attachResp.Close()

	// The hijacked connection does not observe ctx; closing it unblocks the copy.
	stop := context.AfterFunc(ctx, attachResp.Close)
	defer stop()

	stdout := NewRingBuffer(d.outputLimit)
	stderr := NewRingBuffer(4 * 1024)
	if _, err := stdcopy.StdCopy(stdout, stderr, attachResp.Reader); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return "", fmt.Errorf("inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return "", fmt.Errorf("remediation command failed with exit code %d: %s", inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}
	if stdout.Truncated() {
		slog.Warn("Remediation output truncated", "limit", d.outputLimit, "container", d.container)
	}
	return strings.TrimSpace(stdout.String()), nil
}
