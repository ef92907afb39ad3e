// Package docker launches isolated run executors as Docker containers via
// the official SDK.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	typesimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/mfdoom84/automatevnc/internal/ports"
)

// Config describes how executor containers are created.
type Config struct {
	// Image is the runner image reference.
	Image string
	// DataVolume is mounted at /data inside the executor; run artifacts,
	// scripts and templates live there.
	DataVolume string
}

// Launcher implements ports.Launcher on the Docker SDK.
type Launcher struct {
	cli dockerClient
	cfg Config

	pullOnce sync.Once
	pullErr  error
}

var _ ports.Launcher = (*Launcher)(nil)

// New creates a Launcher using a client configured from the environment.
// An error here means no isolation runtime is reachable; callers degrade to
// in-process execution.
func New(cfg Config) (*Launcher, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("docker launcher: runner image must be configured")
	}
	if cfg.DataVolume == "" {
		cfg.DataVolume = "automatevnc-data"
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker launcher: create client: %w", err)
	}
	return &Launcher{cli: cli, cfg: cfg}, nil
}

func newWithClient(cli dockerClient, cfg Config) *Launcher {
	return &Launcher{cli: cli, cfg: cfg}
}

// Close releases the underlying Docker client.
func (l *Launcher) Close() error {
	return l.cli.Close()
}

func (l *Launcher) ensureImage(ctx context.Context) error {
	l.pullOnce.Do(func() {
		reader, err := l.cli.ImagePull(ctx, l.cfg.Image, typesimage.PullOptions{})
		if err != nil {
			l.pullErr = fmt.Errorf("pull image %s: %w", l.cfg.Image, err)
			return
		}
		defer reader.Close()
		if _, err := io.Copy(io.Discard, reader); err != nil {
			l.pullErr = fmt.Errorf("consume pull output for %s: %w", l.cfg.Image, err)
		}
	})
	return l.pullErr
}

// Launch creates and starts one executor container carrying the run's
// contract in its environment.
func (l *Launcher) Launch(ctx context.Context, spec ports.LaunchSpec) (ports.ExecutorHandle, error) {
	if err := l.ensureImage(ctx); err != nil {
		return nil, err
	}

	env, err := contractEnv(spec)
	if err != nil {
		return nil, err
	}

	resp, err := l.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image: l.cfg.Image,
			Env:   env,
		},
		&container.HostConfig{
			Binds:       []string{l.cfg.DataVolume + ":/data"},
			NetworkMode: "host",
		},
		nil,
		nil,
		"",
	)
	if err != nil {
		return nil, fmt.Errorf("create executor container: %w", err)
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = l.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("start executor container: %w", err)
	}

	return &handle{cli: l.cli, containerID: resp.ID}, nil
}

// contractEnv encodes the executor contract as environment variables.
func contractEnv(spec ports.LaunchSpec) ([]string, error) {
	env := []string{
		"VNC_HOST=" + spec.Host,
		"VNC_PORT=" + strconv.Itoa(spec.Port),
		"SCRIPT_NAME=" + spec.ScriptName,
		"RUN_ID=" + spec.RunID,
		"LOG_FILE=" + spec.LogFile,
		"SCREENSHOT_FILE=" + spec.ScreenshotFile,
	}
	if spec.Password != "" {
		env = append(env, "VNC_PASSWORD="+spec.Password)
	}
	if len(spec.Chain) > 0 {
		env = append(env, "CHAIN_SCRIPTS="+strings.Join(spec.Chain, ","))
	}
	if len(spec.Variables) > 0 {
		encoded, err := json.Marshal(spec.Variables)
		if err != nil {
			return nil, fmt.Errorf("encode variables: %w", err)
		}
		env = append(env, "VARIABLES="+string(encoded))
	}
	return env, nil
}

// handle tracks one running executor container.
type handle struct {
	cli         dockerClient
	containerID string
}

// Wait blocks until the container exits or ctx is done, then collects its
// combined output.
func (h *handle) Wait(ctx context.Context) (int, string, error) {
	statusCh, errCh := h.cli.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return -1, "", fmt.Errorf("executor error: %s", status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	case err := <-errCh:
		return -1, "", fmt.Errorf("wait for executor: %w", err)
	case <-ctx.Done():
		return -1, "", fmt.Errorf("wait for executor: %w", ctx.Err())
	}

	output, err := h.fetchLogs(ctx)
	if err != nil {
		return exitCode, "", fmt.Errorf("fetch executor logs: %w", err)
	}
	return exitCode, output, nil
}

func (h *handle) fetchLogs(ctx context.Context) (string, error) {
	logCtx := ctx
	if logCtx.Err() != nil {
		logCtx = context.Background()
	}
	logs, err := h.cli.ContainerLogs(logCtx, h.containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer logs.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, logs); err != nil {
		return "", err
	}
	return combined.String(), nil
}

// Stop requests termination with the given grace period.
func (h *handle) Stop(ctx context.Context, grace time.Duration) error {
	seconds := int(grace / time.Second)
	if err := h.cli.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &seconds}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop executor: %w", err)
	}
	return nil
}

// Close force-removes the container.
func (h *handle) Close() error {
	if err := h.cli.ContainerRemove(context.Background(), h.containerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove executor: %w", err)
	}
	return nil
}
