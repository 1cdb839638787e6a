// Package jobstatus delivers refresh outcomes to the job-status collaborator.
//
// Sinks implement refresh.StatusSink. LogSink writes one structured log line
// per refresh, KafkaSink publishes a JSON record keyed by owner, and Multi
// fans a status out to several sinks.
package jobstatus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/refresher/internal/refresh"
)

// LogSink logs each status through slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the status. Failures are logged at error level.
func (s *LogSink) Publish(ctx context.Context, status refresh.Status) error {
	attrs := []any{
		"refresh_id", status.RefreshID,
		"owner", status.Owner,
		"dry_run", status.DryRun,
		"duration", status.Finished.Sub(status.Started),
	}
	if !status.Success {
		attrs = append(attrs, "error_code", status.ErrorCode, "error", status.Error)
		if len(status.Chain) > 0 {
			attrs = append(attrs, "chain", status.Chain)
		}
		s.logger.ErrorContext(ctx, "job status: refresh failed", attrs...)
		return nil
	}

	attrs = append(attrs,
		"created", status.Counts.Created,
		"adopted", status.Counts.Adopted,
		"mutated", status.Counts.Mutated,
		"removed", status.Counts.Removed,
		"reused", status.Counts.Reused,
		"conflicts", len(status.Conflicts),
	)
	s.logger.InfoContext(ctx, "job status: refresh succeeded", attrs...)
	return nil
}

// Multi publishes to every sink and joins their errors.
type Multi []refresh.StatusSink

// Publish sends status to each sink in order. Every sink is tried.
func (m Multi) Publish(ctx context.Context, status refresh.Status) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
