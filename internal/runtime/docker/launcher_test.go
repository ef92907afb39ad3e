package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/mfdoom84/automatevnc/internal/ports"
)

type fakeDockerClient struct {
	pulls    int
	pullErr  error
	startErr error

	createdConfig *container.Config
	createdHost   *container.HostConfig

	started []string
	stopped []string
	timeout *int
	removed []string

	waitCode int64
	logs     string
}

func (f *fakeDockerClient) Close() error { return nil }

func (f *fakeDockerClient) ImagePull(_ context.Context, _ string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulls++
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeDockerClient) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *specs.Platform, _ string) (container.CreateResponse, error) {
	f.createdConfig = config
	f.createdHost = hostConfig
	return container.CreateResponse{ID: "ctr-1"}, nil
}

func (f *fakeDockerClient) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeDockerClient) ContainerWait(_ context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: f.waitCode}
	return statusCh, make(chan error, 1)
}

func (f *fakeDockerClient) ContainerLogs(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	if _, err := w.Write([]byte(f.logs)); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (f *fakeDockerClient) ContainerStop(_ context.Context, id string, options container.StopOptions) error {
	f.stopped = append(f.stopped, id)
	f.timeout = options.Timeout
	return nil
}

func (f *fakeDockerClient) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func testSpec() ports.LaunchSpec {
	return ports.LaunchSpec{
		Host:           "host.docker.internal",
		Port:           5900,
		Password:       "secret",
		ScriptName:     "login",
		RunID:          "abc123",
		Chain:          []string{"fill_form", "submit"},
		Variables:      map[string]any{"user": "alice"},
		LogFile:        "/data/runs/run_abc123/execution.log",
		ScreenshotFile: "/data/runs/run_abc123/failure.png",
	}
}

func TestLaunchBuildsExecutorContract(t *testing.T) {
	t.Parallel()

	cli := &fakeDockerClient{}
	l := newWithClient(cli, Config{Image: "runner:latest", DataVolume: "vncdata"})

	handle, err := l.Launch(context.Background(), testSpec())
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()

	env := cli.createdConfig.Env
	for _, want := range []string{
		"VNC_HOST=host.docker.internal",
		"VNC_PORT=5900",
		"VNC_PASSWORD=secret",
		"SCRIPT_NAME=login",
		"RUN_ID=abc123",
		"CHAIN_SCRIPTS=fill_form,submit",
		`VARIABLES={"user":"alice"}`,
		"LOG_FILE=/data/runs/run_abc123/execution.log",
		"SCREENSHOT_FILE=/data/runs/run_abc123/failure.png",
	} {
		if !slices.Contains(env, want) {
			t.Fatalf("env missing %q in %v", want, env)
		}
	}

	if !slices.Contains(cli.createdHost.Binds, "vncdata:/data") {
		t.Fatalf("data volume not mounted: %v", cli.createdHost.Binds)
	}
	if cli.createdHost.NetworkMode != "host" {
		t.Fatalf("network mode %q, want host", cli.createdHost.NetworkMode)
	}
	if len(cli.started) != 1 {
		t.Fatalf("container started %d times, want 1", len(cli.started))
	}
}

func TestLaunchOmitsEmptyOptionalEnv(t *testing.T) {
	t.Parallel()

	spec := testSpec()
	spec.Password = ""
	spec.Chain = nil
	spec.Variables = nil

	env, err := contractEnv(spec)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range env {
		for _, banned := range []string{"VNC_PASSWORD=", "CHAIN_SCRIPTS=", "VARIABLES="} {
			if strings.HasPrefix(entry, banned) {
				t.Fatalf("optional variable %q present despite empty value", entry)
			}
		}
	}
}

func TestLaunchPullsImageOnce(t *testing.T) {
	t.Parallel()

	cli := &fakeDockerClient{}
	l := newWithClient(cli, Config{Image: "runner:latest", DataVolume: "vncdata"})

	for i := 0; i < 3; i++ {
		handle, err := l.Launch(context.Background(), testSpec())
		if err != nil {
			t.Fatal(err)
		}
		handle.Close()
	}
	if cli.pulls != 1 {
		t.Fatalf("image pulled %d times, want 1", cli.pulls)
	}
}

func TestLaunchStartFailureRemovesContainer(t *testing.T) {
	t.Parallel()

	cli := &fakeDockerClient{startErr: errors.New("cannot start")}
	l := newWithClient(cli, Config{Image: "runner:latest", DataVolume: "vncdata"})

	if _, err := l.Launch(context.Background(), testSpec()); err == nil {
		t.Fatal("start failure swallowed")
	}
	if !slices.Contains(cli.removed, "ctr-1") {
		t.Fatal("failed container not removed")
	}
}

func TestHandleWaitReturnsExitCodeAndOutput(t *testing.T) {
	t.Parallel()

	cli := &fakeDockerClient{waitCode: 7, logs: "step 3 failed\n"}
	l := newWithClient(cli, Config{Image: "runner:latest", DataVolume: "vncdata"})

	handle, err := l.Launch(context.Background(), testSpec())
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()

	code, output, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Fatalf("exit code %d, want 7", code)
	}
	if output != "step 3 failed\n" {
		t.Fatalf("output %q", output)
	}
}

func TestHandleStopUsesGracePeriod(t *testing.T) {
	t.Parallel()

	cli := &fakeDockerClient{}
	l := newWithClient(cli, Config{Image: "runner:latest", DataVolume: "vncdata"})

	handle, err := l.Launch(context.Background(), testSpec())
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()

	if err := handle.Stop(context.Background(), 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if len(cli.stopped) != 1 || cli.timeout == nil || *cli.timeout != 10 {
		t.Fatalf("stop recorded %v timeout %v, want 10s grace", cli.stopped, cli.timeout)
	}
}
