package run

import (
	"errors"
	"time"
)

// Status of a script run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var (
	// ErrNotFound signals a missing run, script or template.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals an operation rejected by the current state,
	// such as cancelling an already-terminal run.
	ErrConflict = errors.New("conflict")
)

// Credentials identify the remote desktop a run drives.
type Credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password,omitempty"`
}

// Run is a single execution of a script against a remote desktop.
//
// CompletedAt is set exactly when the status becomes terminal. Mutation is
// confined to the orchestrator task owning the run id.
type Run struct {
	ID         string `json:"id"`
	ScriptName string `json:"script_name"`
	Status     Status `json:"status"`

	Host string `json:"host"`
	Port int    `json:"port"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ExitCode     *int   `json:"exit_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	LogFile    string `json:"log_file,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

// Report is published to external systems when a run reaches a terminal state.
type Report struct {
	Run      Run           `json:"run"`
	Duration time.Duration `json:"duration"`
}
