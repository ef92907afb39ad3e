package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/mfdoom84/automatevnc/internal/domain/run"
	"github.com/mfdoom84/automatevnc/internal/ports"
	"github.com/mfdoom84/automatevnc/internal/scripting"
	"github.com/mfdoom84/automatevnc/internal/vnc"
)

// dataRunsRoot is where run artifacts live inside an isolated executor.
// The host keeps its own runs directory; the executor sees the shared data
// volume mounted at /data.
const dataRunsRoot = "/data/runs"

// execute drives one run to a terminal state. It is the only writer of the
// QUEUED to RUNNING transition; terminal transitions race with CancelRun and
// the first one wins.
func (s *Service) execute(ctx context.Context, state *runState, creds run.Credentials, chain []string, variables map[string]any) {
	id := state.run.ID

	state.mu.Lock()
	if state.run.Status.Terminal() {
		state.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	state.run.Status = run.StatusRunning
	state.run.StartedAt = &now
	r := state.run
	state.mu.Unlock()

	if err := s.store.saveMetadata(r); err != nil {
		s.logger.Error("failed to persist run metadata", "run", id, "error", err)
	}
	_ = s.store.appendLog(id, fmt.Sprintf("Run started: script=%s target=%s:%d", r.ScriptName, creds.Host, creds.Port))

	var execErr error
	var exitCode *int
	if s.cfg.Launcher != nil {
		exitCode, execErr = s.executeIsolated(ctx, state, creds, chain, variables)
	} else {
		execErr = s.executeInProcess(ctx, state, creds, chain, variables)
	}

	switch {
	case execErr == nil:
		if s.setTerminal(state, run.StatusSuccess, exitCode, "") {
			_ = s.store.appendLog(id, "Run completed successfully")
			s.logger.Info("run succeeded", "run", id)
		}
	case ctx.Err() != nil:
		// CancelRun already moved the run to CANCELLED.
	default:
		if s.setTerminal(state, run.StatusFailed, exitCode, execErr.Error()) {
			_ = s.store.appendLog(id, fmt.Sprintf("Run failed: %v", execErr))
			s.logger.Warn("run failed", "run", id, "error", execErr)
		}
	}
}

// executeIsolated dispatches the run to an executor container and waits for
// it, bounded by the execution ceiling.
func (s *Service) executeIsolated(ctx context.Context, state *runState, creds run.Credentials, chain []string, variables map[string]any) (*int, error) {
	id := state.run.ID

	// Loopback targets name the operator's host, which inside the executor
	// resolves to the container itself. Rewrite to the bridge alias.
	host := creds.Host
	if host == "localhost" || host == "127.0.0.1" {
		host = hostBridgeAlias
	}

	spec := ports.LaunchSpec{
		Host:           host,
		Port:           creds.Port,
		Password:       creds.Password,
		ScriptName:     state.run.ScriptName,
		RunID:          id,
		Chain:          chain,
		Variables:      variables,
		LogFile:        path.Join(dataRunsRoot, runDirPrefix+id, logFile),
		ScreenshotFile: path.Join(dataRunsRoot, runDirPrefix+id, screenshotFile),
	}

	handle, err := s.cfg.Launcher.Launch(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("launch executor: %w", err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			s.logger.Warn("failed to reclaim executor", "run", id, "error", err)
		}
	}()

	state.mu.Lock()
	state.executor = handle
	state.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	code, output, err := handle.Wait(waitCtx)
	if output != "" {
		_ = s.store.appendLog(id, "Executor output:\n"+output)
	}
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			_ = handle.Stop(context.Background(), cancelGrace)
			return nil, fmt.Errorf("executor exceeded %s ceiling", s.cfg.ExecTimeout)
		}
		return nil, err
	}
	if code != 0 {
		return &code, fmt.Errorf("executor exited with code %d", code)
	}
	return &code, nil
}

// executeInProcess runs the script chain against a session opened in this
// process. Used when no isolation runtime is available.
func (s *Service) executeInProcess(ctx context.Context, state *runState, creds run.Credentials, chain []string, variables map[string]any) error {
	id := state.run.ID

	dial := s.cfg.Sessions
	if dial == nil {
		dial = func(ctx context.Context, creds run.Credentials) (*vnc.Session, error) {
			conn, err := vnc.Dial(ctx, creds.Host, creds.Port, creds.Password)
			if err != nil {
				return nil, err
			}
			return vnc.NewSession(conn, vnc.Config{Logger: s.logger}), nil
		}
	}

	session, err := dial(ctx, creds)
	if err != nil {
		return fmt.Errorf("connect to %s:%d: %w", creds.Host, creds.Port, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Warn("failed to close session", "run", id, "error", err)
		}
	}()
	_ = s.store.appendLog(id, fmt.Sprintf("Connected to %s:%d", creds.Host, creds.Port))

	ec := scripting.NewContext(session, scripting.ContextConfig{
		Scripts:   s.cfg.Scripts,
		Templates: s.cfg.Templates,
		Registry:  s.cfg.Registry,
		Logger:    s.logger,
		Variables: variables,
	})

	names := append([]string{state.run.ScriptName}, chain...)
	if err := ec.Chain(ctx, names...); err != nil {
		s.captureFailure(ctx, session, id)
		return err
	}
	return nil
}

// captureFailure saves a screenshot of the desktop as it looked when the
// script failed. Best effort; a capture error only gets logged.
func (s *Service) captureFailure(ctx context.Context, session *vnc.Session, id string) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	shotCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.store.ensureDir(id); err != nil {
		s.logger.Warn("failed to prepare screenshot directory", "run", id, "error", err)
		return
	}
	if err := session.SaveScreenshot(shotCtx, s.store.screenshotPath(id)); err != nil {
		s.logger.Warn("failed to capture failure screenshot", "run", id, "error", err)
		return
	}
	_ = s.store.appendLog(id, "Failure screenshot saved")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
