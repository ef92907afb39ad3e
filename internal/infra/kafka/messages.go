package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfdoom84/automatevnc/internal/domain/run"
)

type reportEnvelope struct {
	RunID       string     `json:"run_id"`
	Script      string     `json:"script"`
	Status      run.Status `json:"status"`
	Host        string     `json:"host,omitempty"`
	Port        int        `json:"port,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

func encodeRunReport(report run.Report) ([]byte, error) {
	payload, err := json.Marshal(makeReportEnvelope(report))
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return payload, nil
}

func makeReportEnvelope(report run.Report) reportEnvelope {
	var durationMs *int64
	if report.Duration > 0 {
		ms := report.Duration.Milliseconds()
		durationMs = &ms
	}

	return reportEnvelope{
		RunID:       report.Run.ID,
		Script:      report.Run.ScriptName,
		Status:      report.Run.Status,
		Host:        report.Run.Host,
		Port:        report.Run.Port,
		ExitCode:    report.Run.ExitCode,
		DurationMs:  durationMs,
		Error:       report.Run.ErrorMessage,
		StartedAt:   report.Run.StartedAt,
		CompletedAt: report.Run.CompletedAt,
		Timestamp:   time.Now().UTC(),
	}
}
