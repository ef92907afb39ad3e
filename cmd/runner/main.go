// Command runner is the isolated run executor. The orchestrator starts one
// per run with the run's parameters in the environment; the process connects
// to the target desktop, executes the script chain and exits nonzero on
// failure. Logs go to LOG_FILE and stdout so the orchestrator can collect
// them either way.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mfdoom84/automatevnc/internal/infra/fsstore"
	"github.com/mfdoom84/automatevnc/internal/infra/tesseract"
	"github.com/mfdoom84/automatevnc/internal/scripting"
	"github.com/mfdoom84/automatevnc/internal/vnc"
)

const (
	defaultScriptsDir   = "/data/scripts"
	defaultTemplatesDir = "/data/templates"

	connectTimeout = 30 * time.Second
	connectRetry   = 2 * time.Second
)

type runnerConfig struct {
	Host     string
	Port     int
	Password string

	ScriptName string
	RunID      string
	Chain      []string
	Variables  map[string]any

	LogFile        string
	ScreenshotFile string

	ScriptsDir   string
	TemplatesDir string
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := loadRunnerConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, cfg, logger); err != nil {
		logger.Error("run failed", "run", cfg.RunID, "error", err)
		appendLog(cfg.LogFile, fmt.Sprintf("Run failed: %v", err))
		os.Exit(1)
	}
	logger.Info("run completed", "run", cfg.RunID)
}

func execute(ctx context.Context, cfg runnerConfig, logger *slog.Logger) error {
	appendLog(cfg.LogFile, fmt.Sprintf("Executor started: script=%s target=%s:%d", cfg.ScriptName, cfg.Host, cfg.Port))

	conn, err := dialWithRetry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	ocr := tesseract.New()
	defer func() {
		if cerr := ocr.Close(); cerr != nil {
			logger.Warn("failed to close ocr engine", "error", cerr)
		}
	}()

	session := vnc.NewSession(conn, vnc.Config{OCR: ocr, Logger: logger})
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("failed to close session", "error", cerr)
		}
	}()
	appendLog(cfg.LogFile, fmt.Sprintf("Connected to %s:%d", cfg.Host, cfg.Port))

	store := fsstore.New(cfg.ScriptsDir, cfg.TemplatesDir)
	ec := scripting.NewContext(session, scripting.ContextConfig{
		Scripts:   store,
		Templates: store,
		Logger:    logger,
		Variables: cfg.Variables,
	})

	names := append([]string{cfg.ScriptName}, cfg.Chain...)
	for _, name := range names {
		appendLog(cfg.LogFile, "Running script: "+name)
		if err := ec.RunScript(ctx, name); err != nil {
			captureFailure(ctx, session, cfg, logger)
			return err
		}
		appendLog(cfg.LogFile, "Script finished: "+name)
	}
	appendLog(cfg.LogFile, "Run completed successfully")
	return nil
}

// dialWithRetry keeps attempting the connection until the target accepts or
// the window closes. The desktop is often still booting when the executor
// starts.
func dialWithRetry(ctx context.Context, cfg runnerConfig, logger *slog.Logger) (vnc.Conn, error) {
	deadline := time.Now().Add(connectTimeout)
	for {
		conn, err := vnc.Dial(ctx, cfg.Host, cfg.Port, cfg.Password)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return nil, err
		}
		logger.Info("connection not ready, retrying", "error", err)
		select {
		case <-time.After(connectRetry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func captureFailure(ctx context.Context, session *vnc.Session, cfg runnerConfig, logger *slog.Logger) {
	if cfg.ScreenshotFile == "" {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	shotCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := os.MkdirAll(filepath.Dir(cfg.ScreenshotFile), 0o755); err != nil {
		logger.Warn("failed to prepare screenshot directory", "error", err)
		return
	}
	if err := session.SaveScreenshot(shotCtx, cfg.ScreenshotFile); err != nil {
		logger.Warn("failed to capture failure screenshot", "error", err)
		return
	}
	appendLog(cfg.LogFile, "Failure screenshot saved")
}

func loadRunnerConfig() (runnerConfig, error) {
	cfg := runnerConfig{
		Host:           os.Getenv("VNC_HOST"),
		Password:       os.Getenv("VNC_PASSWORD"),
		ScriptName:     os.Getenv("SCRIPT_NAME"),
		RunID:          os.Getenv("RUN_ID"),
		LogFile:        os.Getenv("LOG_FILE"),
		ScreenshotFile: os.Getenv("SCREENSHOT_FILE"),
		ScriptsDir:     envOrDefault("SCRIPTS_DIR", defaultScriptsDir),
		TemplatesDir:   envOrDefault("TEMPLATES_DIR", defaultTemplatesDir),
	}
	if cfg.Host == "" {
		return runnerConfig{}, fmt.Errorf("VNC_HOST is required")
	}
	if cfg.ScriptName == "" {
		return runnerConfig{}, fmt.Errorf("SCRIPT_NAME is required")
	}

	port, err := parsePort(os.Getenv("VNC_PORT"))
	if err != nil {
		return runnerConfig{}, err
	}
	cfg.Port = port

	if raw := os.Getenv("CHAIN_SCRIPTS"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				cfg.Chain = append(cfg.Chain, trimmed)
			}
		}
	}
	if raw := os.Getenv("VARIABLES"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Variables); err != nil {
			return runnerConfig{}, fmt.Errorf("parse VARIABLES: %w", err)
		}
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid VNC_PORT %q", raw)
	}
	return port, nil
}

// appendLog mirrors the orchestrator's log line format so host-side and
// executor-side entries interleave cleanly.
func appendLog(path, message string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339Nano), message)
	_, _ = f.WriteString(line)
}
