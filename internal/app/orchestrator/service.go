// Package orchestrator owns the run lifecycle: validation, dispatch to an
// isolated executor (or the in-process fallback), artifact persistence,
// cancellation and the query surface.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mfdoom84/automatevnc/internal/domain/run"
	"github.com/mfdoom84/automatevnc/internal/ports"
	"github.com/mfdoom84/automatevnc/internal/scripting"
	"github.com/mfdoom84/automatevnc/internal/vnc"
)

const (
	// defaultExecTimeout is the hard ceiling on an isolated executor;
	// past it the run is force-failed and the executor reclaimed.
	defaultExecTimeout = 5 * time.Minute
	cancelGrace        = 10 * time.Second
	defaultListLimit   = 50

	// hostBridgeAlias lets an isolated executor reach services bound to
	// the operator's loopback interface.
	hostBridgeAlias = "host.docker.internal"
)

// SessionFactory opens a connected remote-desktop session for the
// in-process fallback. Injectable so tests run without a wire protocol.
type SessionFactory func(ctx context.Context, creds run.Credentials) (*vnc.Session, error)

// Config wires a Service.
type Config struct {
	// RunsDir is the root of per-run artifact directories.
	RunsDir string

	// Launcher dispatches isolated executors. Nil means no isolation
	// runtime is available and runs execute in-process.
	Launcher ports.Launcher

	// Scripts validates references and feeds the in-process path.
	Scripts   ports.ScriptStore
	Templates ports.TemplateStore
	Registry  *scripting.Registry

	// Sessions opens wire connections for the in-process path.
	Sessions SessionFactory

	// Publisher, when set, receives terminal run reports.
	Publisher ports.RunReportPublisher

	Logger      *slog.Logger
	ExecTimeout time.Duration
}

// runState pairs the persisted run with its in-flight execution handles.
// The per-run mutex guards status transitions; persisted state needs no
// cross-run locking because it is namespaced by run id.
type runState struct {
	mu       sync.Mutex
	run      run.Run
	cancel   context.CancelFunc
	executor ports.ExecutorHandle
}

// Service is the run lifecycle engine. Construct once and pass by
// reference.
type Service struct {
	cfg    Config
	store  runStore
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*runState
}

// NewService constructs a Service with the provided dependencies.
func NewService(cfg Config) (*Service, error) {
	if cfg.RunsDir == "" {
		return nil, fmt.Errorf("orchestrator: runs directory must be configured")
	}
	if cfg.Scripts == nil {
		return nil, fmt.Errorf("orchestrator: script store must be configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = defaultExecTimeout
	}
	return &Service{
		cfg:    cfg,
		store:  runStore{dir: cfg.RunsDir},
		logger: logger,
		runs:   make(map[string]*runState),
	}, nil
}

// Close releases the launcher and publisher. In-flight runs keep executing.
func (s *Service) Close() error {
	var errs []error
	if s.cfg.Launcher != nil {
		if err := s.cfg.Launcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("launcher: %w", err))
		}
	}
	if s.cfg.Publisher != nil {
		if err := s.cfg.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close orchestrator: %v", errs)
	}
	return nil
}

// CreateRun validates every script reference, persists a QUEUED run and
// schedules execution without blocking the caller. A missing script fails
// fast with run.ErrNotFound and no run record is created.
func (s *Service) CreateRun(ctx context.Context, scriptName string, creds run.Credentials, chain []string, variables map[string]any) (run.Run, error) {
	for _, name := range append([]string{scriptName}, chain...) {
		exists, err := s.cfg.Scripts.Exists(ctx, name)
		if err != nil {
			return run.Run{}, fmt.Errorf("check script %q: %w", name, err)
		}
		if !exists {
			return run.Run{}, fmt.Errorf("script %q: %w", name, run.ErrNotFound)
		}
	}

	id := newRunID()
	r := run.Run{
		ID:         id,
		ScriptName: scriptName,
		Status:     run.StatusQueued,
		Host:       creds.Host,
		Port:       creds.Port,
		LogFile:    s.store.logPath(id),
	}
	if err := s.store.saveMetadata(r); err != nil {
		return run.Run{}, err
	}

	execCtx, cancel := context.WithCancel(context.Background())
	state := &runState{run: r, cancel: cancel}
	s.mu.Lock()
	s.runs[id] = state
	s.mu.Unlock()

	s.logger.Info("run queued", "run", id, "script", scriptName)
	go s.execute(execCtx, state, creds, chain, variables)

	return r, nil
}

func newRunID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// GetRun returns a run by id, rehydrating it from persisted metadata when
// the orchestrator has restarted since the run was created.
func (s *Service) GetRun(ctx context.Context, id string) (run.Run, error) {
	if state := s.state(id); state != nil {
		state.mu.Lock()
		defer state.mu.Unlock()
		return state.run, nil
	}

	r, err := s.store.loadMetadata(id)
	if err != nil {
		return run.Run{}, err
	}
	// A run found RUNNING on disk after a restart is reported as-is; it is
	// not resumed or reconciled.
	s.mu.Lock()
	if _, exists := s.runs[id]; !exists {
		s.runs[id] = &runState{run: r}
	}
	s.mu.Unlock()
	return r, nil
}

// ListRuns returns up to limit runs, most recently started first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]run.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ids, err := s.store.listIDs()
	if err != nil {
		return nil, err
	}
	runs := make([]run.Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRun(ctx, id)
		if err != nil {
			continue
		}
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if runs[i].StartedAt != nil {
			ti = *runs[i].StartedAt
		}
		if runs[j].StartedAt != nil {
			tj = *runs[j].StartedAt
		}
		return ti.After(tj)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Logs carries a run's log text and whether the run has finished writing.
type Logs struct {
	Text     string
	Complete bool
}

// GetLogs reads the run's log file.
func (s *Service) GetLogs(ctx context.Context, id string) (Logs, error) {
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return Logs{}, err
	}
	text, err := s.store.readLog(id)
	if err != nil {
		return Logs{}, err
	}
	return Logs{Text: text, Complete: r.Status.Terminal()}, nil
}

// Artifacts points at a run's persisted files. Screenshot is empty when no
// failure screenshot was captured.
type Artifacts struct {
	Log        string
	Screenshot string
}

// GetArtifacts returns paths to the run's persisted artifacts.
func (s *Service) GetArtifacts(ctx context.Context, id string) (Artifacts, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return Artifacts{}, err
	}
	a := Artifacts{}
	if text, err := s.store.readLog(id); err == nil && text != "" {
		a.Log = s.store.logPath(id)
	}
	if fileExists(s.store.screenshotPath(id)) {
		a.Screenshot = s.store.screenshotPath(id)
	}
	return a, nil
}

// CancelRun cancels a QUEUED or RUNNING run. Termination of the executor is
// best-effort: its failure is logged but never prevents the CANCELLED
// transition. Cancelling an already-terminal run returns run.ErrConflict
// and changes nothing.
func (s *Service) CancelRun(ctx context.Context, id string) error {
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	state := s.state(id)

	state.mu.Lock()
	if state.run.Status.Terminal() {
		state.mu.Unlock()
		return fmt.Errorf("run %q is already %s: %w", id, state.run.Status, run.ErrConflict)
	}
	executor := state.executor
	cancel := state.cancel
	state.mu.Unlock()

	// Mark CANCELLED before touching the executor so its exit racing this
	// call can never claim the terminal state.
	s.setTerminal(state, run.StatusCancelled, nil, "")
	_ = s.store.appendLog(id, "Run cancelled by user")

	if executor != nil {
		if err := executor.Stop(ctx, cancelGrace); err != nil {
			s.logger.Warn("failed to stop executor", "run", id, "error", err)
			_ = s.store.appendLog(id, fmt.Sprintf("Failed to stop executor: %v", err))
		} else {
			_ = s.store.appendLog(id, "Executor stopped")
		}
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Info("run cancelled", "run", id)
	return nil
}

// DeleteRun cancels the run if it is still active, then removes its
// metadata, log and screenshot. Partial cleanup failures are reported, not
// swallowed.
func (s *Service) DeleteRun(ctx context.Context, id string) error {
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if !r.Status.Terminal() {
		if err := s.CancelRun(ctx, id); err != nil {
			return fmt.Errorf("cancel before delete: %w", err)
		}
	}

	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()

	if err := s.store.remove(id); err != nil {
		return err
	}
	s.logger.Info("run deleted", "run", id)
	return nil
}

func (s *Service) state(id string) *runState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[id]
}

// setTerminal moves a run to a terminal status exactly once; later attempts
// are ignored so the first terminal state wins.
func (s *Service) setTerminal(state *runState, status run.Status, exitCode *int, errorMessage string) bool {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.run.Status.Terminal() {
		return false
	}
	now := time.Now().UTC()
	state.run.Status = status
	state.run.CompletedAt = &now
	state.run.ExitCode = exitCode
	state.run.ErrorMessage = errorMessage
	if fileExists(s.store.screenshotPath(state.run.ID)) {
		state.run.Screenshot = s.store.screenshotPath(state.run.ID)
	}
	if err := s.store.saveMetadata(state.run); err != nil {
		s.logger.Error("failed to persist run metadata", "run", state.run.ID, "error", err)
	}
	s.publish(state.run)
	return true
}

func (s *Service) publish(r run.Run) {
	if s.cfg.Publisher == nil || !r.Status.Terminal() {
		return
	}
	var duration time.Duration
	if r.StartedAt != nil && r.CompletedAt != nil {
		duration = r.CompletedAt.Sub(*r.StartedAt)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Publisher.PublishRunReport(ctx, run.Report{Run: r, Duration: duration}); err != nil {
		s.logger.Warn("failed to publish run report", "run", r.ID, "error", err)
	}
}
