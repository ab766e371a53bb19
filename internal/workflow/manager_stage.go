package workflow

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
	"vidpilot/internal/stageexec"
)

// maxAdvanceSteps bounds one worker pass. A full pipeline needs about ten
// steps; the rest absorbs conflict re-reads.
const maxAdvanceSteps = 64

// advance moves the job forward until it is terminal, suspended at approval,
// or the worker is stopped. ctx is the manager's context and ends only on
// shutdown; cancelled is closed when the job's cancellation is requested.
func (m *Manager) advance(ctx context.Context, cancelled <-chan struct{}, id string) {
	ctx = services.WithRequestID(services.WithJobID(ctx, id), uuid.NewString())
	callCtx := stageexec.WithCancelSignal(ctx, cancelled)
	logger, closeLog := m.jobLogger(ctx, id)
	defer closeLog()

	for range maxAdvanceSteps {
		if ctx.Err() != nil {
			return
		}
		job, err := m.store.Get(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				m.setLastError(err)
				logger.Error("failed to load job", logging.Error(err))
			}
			return
		}
		m.setLastJob(job)
		if job.State.IsTerminal() {
			return
		}
		if job.CancelRequested {
			m.failJob(ctx, logger, job, stage.NameForState(job.State), "cancelled")
			return
		}

		switch job.State {
		case jobs.StateAwaitingApproval:
			return
		case jobs.StateThumbnailDrafted:
			if !m.requestApproval(ctx, logger, job) {
				return
			}
		case jobs.StateApproved, jobs.StateUploading:
			if !m.publish(ctx, callCtx, logger, job) {
				return
			}
		default:
			step, ok := stage.ForState(job.State)
			if !ok {
				logger.Warn("no stage configured for state", logging.State(string(job.State)))
				return
			}
			if !m.runStep(ctx, callCtx, logger, job, step) {
				return
			}
		}
	}
	logging.WarnWithContext(logger, "job kept changing under the worker; yielding", "advance_step_limit",
		logging.String(logging.FieldImpact, "job resumes on the next sweep"),
	)
}

// runStep runs one processing stage and applies its transition. It reports
// whether the worker should re-read the job and continue. callCtx carries the
// job's cancel signal; the collaborator call itself is not cut short by it.
func (m *Manager) runStep(ctx, callCtx context.Context, logger *slog.Logger, job *jobs.Job, step stage.Step) bool {
	stageLogger := logger.With(logging.Stage(step.Name))

	if job.HasOutput(step.Name) {
		attrs := append([]logging.Attr{logging.String(logging.FieldEventType, "stage_skipped")},
			logging.DecisionAttrs("stage_skip", "skipped", "output recorded")...)
		stageLogger.Info("stage output already recorded; skipping", logging.Args(attrs...)...)
		return m.transition(ctx, stageLogger, job.ID, step.From, step.To)
	}

	started := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.State(string(job.State)),
		logging.String("source_file", filepath.Base(job.SourcePath)),
		logging.Int("prior_attempts", job.Attempt(step.Name)),
	)
	payload, err := m.deps.Runner.Run(services.WithStage(callCtx, step.Name), step.Name, job)
	if err != nil {
		if ctx.Err() != nil {
			stageLogger.Info("daemon shutting down; stage interrupted",
				logging.String(logging.FieldEventType, "stage_interrupted"),
			)
			return false
		}
		var stageErr *stageexec.Error
		if !errors.As(err, &stageErr) {
			m.setLastError(err)
			logging.ErrorWithContext(stageLogger, "stage could not run", "stage_store_error",
				logging.String(logging.FieldErrorHint, "check job database access"),
				logging.Error(err),
			)
			return false
		}
		reason := stageErr.Reason()
		if m.cancelRequested(ctx, job.ID) {
			reason = "cancelled"
		}
		m.failJob(ctx, stageLogger, job, step.Name, reason)
		return false
	}
	if _, err := m.store.RecordStageOutput(ctx, job.ID, step.Name, payload); err != nil {
		m.setLastError(err)
		stageLogger.Error("failed to record stage output", logging.Error(err))
		return false
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(started)),
	)
	if m.cancelRequested(ctx, job.ID) {
		// The output stays recorded so a resubmission skips this stage.
		m.failJob(ctx, stageLogger, job, step.Name, "cancelled")
		return false
	}
	return m.transition(ctx, stageLogger, job.ID, step.From, step.To)
}

// cancelRequested re-reads the durable cancel flag after a collaborator call
// returns.
func (m *Manager) cancelRequested(ctx context.Context, id string) bool {
	job, err := m.store.Get(ctx, id)
	return err == nil && job.CancelRequested
}

// transition applies a compare-and-swap transition. A conflict means another
// actor moved the job; the caller re-reads and continues.
func (m *Manager) transition(ctx context.Context, logger *slog.Logger, id string, from, to jobs.State) bool {
	err := m.store.Transition(ctx, id, from, to)
	if errors.Is(err, jobs.ErrConflict) {
		logger.Debug("transition conflict; re-reading job",
			logging.String("from", string(from)),
			logging.String("to", string(to)),
		)
		return true
	}
	if err != nil {
		if ctx.Err() == nil {
			m.setLastError(err)
			logger.Error("transition failed", logging.String("from", string(from)), logging.String("to", string(to)), logging.Error(err))
		}
		return false
	}
	logger.Info("job advanced",
		logging.String(logging.FieldEventType, "state_changed"),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	)
	m.deps.Bus.Publish(events.Event{Type: events.StateChanged, JobID: id, From: string(from), To: string(to)})
	return true
}

func (m *Manager) requestApproval(ctx context.Context, logger *slog.Logger, job *jobs.Job) bool {
	if !m.transition(ctx, logger, job.ID, jobs.StateThumbnailDrafted, jobs.StateAwaitingApproval) {
		return false
	}
	pending, err := m.store.Get(ctx, job.ID)
	if err != nil {
		logger.Error("failed to reload job for approval", logging.Error(err))
		return false
	}
	if pending.State != jobs.StateAwaitingApproval {
		return true
	}
	if m.deps.Approval == nil {
		logging.WarnWithContext(logger, "no approval gateway configured", "approval_unavailable",
			logging.String(logging.FieldImpact, "job waits for a manual decision"),
			logging.String(logging.FieldErrorHint, "vidpilot approve "+job.ID),
		)
		return false
	}
	m.deps.Approval.Request(ctx, pending)
	// Auto-approval decides synchronously; re-read to carry on with upload.
	return true
}

func (m *Manager) publish(ctx, callCtx context.Context, logger *slog.Logger, job *jobs.Job) bool {
	if m.deps.Uploader == nil {
		logging.WarnWithContext(logger, "no upload service configured", "upload_unavailable",
			logging.String(logging.FieldImpact, "approved job is not published"),
			logging.String(logging.FieldErrorHint, "configure the youtube section and restart"),
		)
		return false
	}
	uploadLogger := logger.With(logging.Stage(stage.Upload))
	started := time.Now()
	uploadLogger.Info("upload started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.State(string(job.State)),
		logging.Int("prior_attempts", job.Attempt(stage.Upload)),
	)
	_, err := m.deps.Uploader.Publish(callCtx, job.ID)
	if err == nil {
		uploadLogger.Info("upload completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", time.Since(started)),
		)
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, jobs.ErrConflict) {
		return true
	}
	var stageErr *stageexec.Error
	if !errors.As(err, &stageErr) {
		m.setLastError(err)
		uploadLogger.Error("upload could not run", logging.Error(err))
	}
	// The dispatcher has already failed the job for stage errors, including
	// a cancellation honoured after the upload call returned.
	return false
}
