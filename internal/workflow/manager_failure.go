package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
)

// failJob records FAILED(stageName, reason) for the job's current state. A
// conflict means the job moved on (or was failed by someone else) and is left
// alone.
func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *jobs.Job, stageName, reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = stageName + " failed without error detail"
	}
	err := m.store.Fail(ctx, job.ID, job.State, stageName, reason)
	if errors.Is(err, jobs.ErrConflict) {
		logger.Debug("job changed before failure could be recorded", logging.String("reason", reason))
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not record stage failure")
		} else {
			m.setLastError(err)
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
		return
	}

	logging.ErrorWithContext(logger, "job failed", "stage_failure",
		logging.String("resolved_state", string(jobs.StateFailed)),
		logging.String("failed_from", string(job.State)),
		logging.Stage(stageName),
		logging.String("error_message", reason),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorHint, "vidpilot retry "+job.ID),
	)
	m.deps.Bus.Publish(events.Event{
		Type:   events.JobFailed,
		JobID:  job.ID,
		From:   string(job.State),
		To:     string(jobs.StateFailed),
		Detail: reason,
	})
}
