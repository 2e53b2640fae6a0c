package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

var _ fleet.Orchestrator = (*Runtime)(nil)

type fakeAPI struct {
	containers []types.Container
	createCfg  *container.Config
	createHost *container.HostConfig
	createName string
	startErr   error
	removed    []string
	stopped    []string
	stopSecs   int
	execStdout string
	execStderr string
	exitCode   int
}

func (f *fakeAPI) ContainerList(context.Context, container.ListOptions) ([]types.Container, error) {
	return f.containers, nil
}

func (f *fakeAPI) ContainerCreate(
	_ context.Context,
	cfg *container.Config,
	host *container.HostConfig,
	_ *network.NetworkingConfig,
	_ *ocispec.Platform,
	name string,
) (container.CreateResponse, error) {
	f.createCfg, f.createHost, f.createName = cfg, host, name
	return container.CreateResponse{ID: "abc123"}, nil
}

func (f *fakeAPI) ContainerStart(context.Context, string, container.StartOptions) error {
	return f.startErr
}

func (f *fakeAPI) ContainerStop(_ context.Context, id string, opts container.StopOptions) error {
	f.stopped = append(f.stopped, id)
	if opts.Timeout != nil {
		f.stopSecs = *opts.Timeout
	}
	return nil
}

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeAPI) ContainerExecCreate(context.Context, string, container.ExecOptions) (types.IDResponse, error) {
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeAPI) ContainerExecAttach(context.Context, string, container.ExecStartOptions) (types.HijackedResponse, error) {
	var buf bytes.Buffer
	if f.execStdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.execStdout))
	}
	if f.execStderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.execStderr))
	}
	server, clientConn := net.Pipe()
	_ = server.Close()
	return types.HijackedResponse{Conn: clientConn, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeAPI) ContainerExecInspect(context.Context, string) (container.ExecInspect, error) {
	return container.ExecInspect{ExitCode: f.exitCode}, nil
}

func (f *fakeAPI) Close() error { return nil }

func TestListFiltersAndMaps(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{containers: []types.Container{
		{ID: "1", Names: []string{"/crawler_replica_aaaaaa_container"}, Created: 100, State: "running"},
		{ID: "2", Names: []string{"/other_crawler_replica_bbbbbb_container"}, Created: 50, State: "running"},
		{ID: "3", Names: []string{"/crawler_replica_cccccc_container"}, Created: 200, State: "exited"},
		{ID: "4", Names: []string{"/crawler_replica_dddddd_container"}, Created: 300, State: "created"},
	}}
	r := newWithAPI(api, 10*time.Second)

	list, err := r.List(context.Background(), "crawler_replica_")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "crawler_replica_aaaaaa_container", list[0].Name)
	require.Equal(t, fleet.WorkerRunning, list[0].Status)
	require.Equal(t, time.Unix(100, 0).UTC(), list[0].CreatedAt)
	require.Equal(t, fleet.WorkerStopped, list[1].Status)
	require.Equal(t, fleet.WorkerStarting, list[2].Status)
}

func TestCreateAppliesSpec(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	r := newWithAPI(api, 10*time.Second)
	rec, err := r.Create(context.Background(), fleet.WorkerSpec{
		Name:        "crawler_replica_abcdef_container",
		Image:       "crawler:latest",
		Network:     "crawler_net",
		Env:         []string{"REDIS_HOST=redis"},
		Command:     []string{"fleet", "work", "--concurrency", "2"},
		NanoCPUs:    250_000_000,
		MemoryBytes: 512 * 1024 * 1024,
	})
	require.NoError(t, err)
	require.Equal(t, "abc123", rec.ID)
	require.Equal(t, "crawler_replica_abcdef_container", api.createName)
	require.Equal(t, "crawler:latest", api.createCfg.Image)
	require.Equal(t, "true", api.createCfg.Labels[ManagedLabel])
	require.Equal(t, container.NetworkMode("crawler_net"), api.createHost.NetworkMode)
	require.Equal(t, int64(250_000_000), api.createHost.Resources.NanoCPUs)
	require.Equal(t, int64(512*1024*1024), api.createHost.Resources.Memory)
}

func TestCreateCleansUpOnStartFailure(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{startErr: errors.New("port in use")}
	r := newWithAPI(api, time.Second)
	_, err := r.Create(context.Background(), fleet.WorkerSpec{Name: "w"})
	require.Error(t, err)
	require.Equal(t, []string{"abc123"}, api.removed)
}

func TestStopAndRemove(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	r := newWithAPI(api, 7*time.Second)
	require.NoError(t, r.Stop(context.Background(), "x"))
	require.NoError(t, r.Remove(context.Background(), "x"))
	require.Equal(t, []string{"x"}, api.stopped)
	require.Equal(t, 7, api.stopSecs)
	require.Equal(t, []string{"x"}, api.removed)
}

func TestExec(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{execStdout: "* {\"id\":\"t1\"}\n"}
	r := newWithAPI(api, time.Second)
	out, err := r.Exec(context.Background(), "w", []string{"fleet", "inspect"})
	require.NoError(t, err)
	require.Equal(t, "* {\"id\":\"t1\"}\n", out)

	api = &fakeAPI{execStderr: "boom", exitCode: 2}
	r = newWithAPI(api, time.Second)
	_, err = r.Exec(context.Background(), "w", []string{"fleet", "inspect"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestParseResources(t *testing.T) {
	t.Parallel()

	cpus, mem, err := ParseResources(0.25, "512m")
	require.NoError(t, err)
	require.Equal(t, int64(250_000_000), cpus)
	require.Equal(t, int64(512*1024*1024), mem)

	_, _, err = ParseResources(0.25, "lots")
	require.Error(t, err)
	_, _, err = ParseResources(-1, "")
	require.Error(t, err)
}
