// Command autovnc is the run orchestrator daemon: it accepts run requests
// over HTTP, dispatches them to isolated executors (or runs them in-process
// when no container runtime is available) and serves run state, logs and
// artifacts.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mfdoom84/automatevnc/internal/api"
	"github.com/mfdoom84/automatevnc/internal/app/orchestrator"
	"github.com/mfdoom84/automatevnc/internal/domain/run"
	"github.com/mfdoom84/automatevnc/internal/infra/fsstore"
	kafkainfra "github.com/mfdoom84/automatevnc/internal/infra/kafka"
	"github.com/mfdoom84/automatevnc/internal/infra/tesseract"
	"github.com/mfdoom84/automatevnc/internal/ports"
	"github.com/mfdoom84/automatevnc/internal/runtime/docker"
	"github.com/mfdoom84/automatevnc/internal/scripting"
	"github.com/mfdoom84/automatevnc/internal/vnc"
)

func main() {
	cfg, err := loadAppConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := fsstore.New(
		filepath.Join(cfg.DataDir, "scripts"),
		filepath.Join(cfg.DataDir, "templates"),
	)

	var launcher ports.Launcher
	if cfg.RunnerImage != "" {
		l, err := docker.New(docker.Config{Image: cfg.RunnerImage, DataVolume: cfg.DataVolume})
		if err != nil {
			logger.Warn("container runtime unavailable, runs will execute in-process", "error", err)
		} else {
			launcher = l
		}
	} else {
		logger.Info("no runner image configured, runs will execute in-process")
	}

	var publisher ports.RunReportPublisher
	if len(cfg.KafkaBrokers) > 0 {
		p, err := kafkainfra.NewPublisher(kafkainfra.PublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			logger.Warn("run report publishing disabled", "error", err)
		} else {
			publisher = p
		}
	}

	ocr := tesseract.New()
	defer func() {
		if cerr := ocr.Close(); cerr != nil {
			logger.Warn("failed to close ocr engine", "error", cerr)
		}
	}()

	service, err := orchestrator.NewService(orchestrator.Config{
		RunsDir:   filepath.Join(cfg.DataDir, "runs"),
		Launcher:  launcher,
		Scripts:   store,
		Templates: store,
		Registry:  scripting.NewRegistry(),
		Sessions: func(ctx context.Context, creds run.Credentials) (*vnc.Session, error) {
			conn, err := vnc.Dial(ctx, creds.Host, creds.Port, creds.Password)
			if err != nil {
				return nil, err
			}
			return vnc.NewSession(conn, vnc.Config{OCR: ocr, Logger: logger}), nil
		},
		Publisher:   publisher,
		Logger:      logger,
		ExecTimeout: cfg.ExecTimeout,
	})
	if err != nil {
		logger.Error("failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := service.Close(); cerr != nil {
			logger.Warn("failed to close orchestrator", "error", cerr)
		}
	}()

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewHandler(service, logger).Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forced shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
