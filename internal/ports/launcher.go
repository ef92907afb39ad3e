package ports

import (
	"context"
	"time"
)

// LaunchSpec carries the executor contract for one isolated run. Every field
// is handed to the executor process as an environment-style parameter.
type LaunchSpec struct {
	Host     string
	Port     int
	Password string

	ScriptName string
	RunID      string
	Chain      []string
	Variables  map[string]any

	// Paths inside the shared data volume.
	LogFile        string
	ScreenshotFile string
}

// ExecutorHandle tracks one launched executor for waiting and cancellation.
type ExecutorHandle interface {
	// Wait blocks until the executor exits or ctx is done, returning the
	// exit code and the combined output.
	Wait(ctx context.Context) (exitCode int, output string, err error)
	// Stop requests termination with the given grace period.
	Stop(ctx context.Context, grace time.Duration) error
	// Close reclaims the executor's resources.
	Close() error
}

// Launcher dispatches runs to isolated executors.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (ExecutorHandle, error)
	Close() error
}
