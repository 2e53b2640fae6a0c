// Package docker drives worker containers through the Docker Engine API.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// ManagedLabel marks containers created by this runtime.
const ManagedLabel = "io.crawler-fleet.managed"

// apiClient is the subset of the Engine client the runtime uses.
type apiClient interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(
		ctx context.Context,
		config *container.Config,
		hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *ocispec.Platform,
		containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	Close() error
}

// Runtime implements fleet.Orchestrator against a Docker daemon.
type Runtime struct {
	api         apiClient
	stopTimeout time.Duration
	now         func() time.Time
}

// New connects using DOCKER_HOST and friends from the environment.
func New(stopTimeout time.Duration) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newWithAPI(cli, stopTimeout), nil
}

func newWithAPI(api apiClient, stopTimeout time.Duration) *Runtime {
	return &Runtime{api: api, stopTimeout: stopTimeout, now: time.Now}
}

// Close releases the client.
func (r *Runtime) Close() error {
	if err := r.api.Close(); err != nil {
		return fmt.Errorf("docker close: %w", err)
	}
	return nil
}

// List returns containers, running or not, whose name starts with namePrefix.
func (r *Runtime) List(ctx context.Context, namePrefix string) ([]fleet.WorkerRecord, error) {
	containers, err := r.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", namePrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}
	out := make([]fleet.WorkerRecord, 0, len(containers))
	for _, c := range containers {
		name := containerName(c.Names)
		// The daemon's name filter is a substring match.
		if !strings.HasPrefix(name, namePrefix) {
			continue
		}
		out = append(out, fleet.WorkerRecord{
			ID:        c.ID,
			Name:      name,
			CreatedAt: time.Unix(c.Created, 0).UTC(),
			Status:    statusFromState(c.State),
		})
	}
	return out, nil
}

// Create creates and starts a worker container.
func (r *Runtime) Create(ctx context.Context, spec fleet.WorkerSpec) (fleet.WorkerRecord, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Env:    spec.Env,
		Labels: map[string]string{ManagedLabel: "true"},
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: spec.NanoCPUs,
			Memory:   spec.MemoryBytes,
		},
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	created, err := r.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return fleet.WorkerRecord{}, fmt.Errorf("container create %s: %w", spec.Name, err)
	}
	if err := r.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = r.api.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return fleet.WorkerRecord{}, fmt.Errorf("container start %s: %w", spec.Name, err)
	}
	return fleet.WorkerRecord{
		ID:        created.ID,
		Name:      spec.Name,
		CreatedAt: r.now().UTC(),
		Status:    fleet.WorkerStarting,
	}, nil
}

// Stop asks the container to exit, killing it after the stop timeout.
func (r *Runtime) Stop(ctx context.Context, id string) error {
	secs := int(r.stopTimeout / time.Second)
	if err := r.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return fmt.Errorf("container stop %s: %w", id, err)
	}
	return nil
}

// Remove deletes a stopped container.
func (r *Runtime) Remove(ctx context.Context, id string) error {
	if err := r.api.ContainerRemove(ctx, id, container.RemoveOptions{RemoveVolumes: true}); err != nil {
		return fmt.Errorf("container remove %s: %w", id, err)
	}
	return nil
}

// Exec runs cmd inside the named container and returns its stdout.
func (r *Runtime) Exec(ctx context.Context, name string, cmd []string) (string, error) {
	created, err := r.api.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("exec create %s: %w", name, err)
	}
	attach, err := r.api.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("exec attach %s: %w", name, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return "", fmt.Errorf("exec read %s: %w", name, err)
	}
	inspect, err := r.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return "", fmt.Errorf("exec inspect %s: %w", name, err)
	}
	if inspect.ExitCode != 0 {
		return stdout.String(), fmt.Errorf("exec %s exited %d: %s",
			name, inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ParseResources converts a fractional CPU count and a memory string such as
// "512m" into the Engine API's units.
func ParseResources(cpus float64, memory string) (nanoCPUs int64, memoryBytes int64, err error) {
	if cpus < 0 {
		return 0, 0, fmt.Errorf("cpus must be >= 0, got %v", cpus)
	}
	nanoCPUs = int64(cpus * 1e9)
	if memory != "" {
		memoryBytes, err = units.RAMInBytes(memory)
		if err != nil {
			return 0, 0, fmt.Errorf("parse memory %q: %w", memory, err)
		}
	}
	return nanoCPUs, memoryBytes, nil
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func statusFromState(state string) fleet.WorkerStatus {
	switch state {
	case "created", "restarting":
		return fleet.WorkerStarting
	case "running":
		return fleet.WorkerRunning
	case "removing":
		return fleet.WorkerStopping
	default:
		return fleet.WorkerStopped
	}
}
