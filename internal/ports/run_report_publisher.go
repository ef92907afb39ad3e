package ports

import (
	"context"

	"github.com/mfdoom84/automatevnc/internal/domain/run"
)

// RunReportPublisher publishes terminal run reports to an external system.
type RunReportPublisher interface {
	PublishRunReport(ctx context.Context, report run.Report) error
	Close() error
}
