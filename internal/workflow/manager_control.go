package workflow

import (
	"context"
	"errors"
	"fmt"

	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/stage"
)

// Cancel stops a non-terminal job. An idle job fails immediately with reason
// "cancelled". A job in flight only gets the durable cancel flag: its running
// collaborator call is left to finish or time out, any retry backoff is cut
// short, and the worker then fails it with reason "cancelled".
func (m *Manager) Cancel(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := m.store.RequestCancel(ctx, id)
	if err != nil {
		return nil, err
	}
	logger, closeLog := m.jobLogger(ctx, id)
	logger.Info("cancellation requested", logging.String(logging.FieldEventType, "job_cancel_requested"))
	closeLog()

	m.mu.Lock()
	run, busy := m.inflight[id]
	m.mu.Unlock()
	if busy {
		run.requestCancel()
		return job, nil
	}

	for range 3 {
		if job.State.IsTerminal() {
			return job, nil
		}
		err := m.store.Fail(ctx, id, job.State, stage.NameForState(job.State), "cancelled")
		if err == nil {
			m.deps.Bus.Publish(events.Event{
				Type:   events.JobFailed,
				JobID:  id,
				From:   string(job.State),
				To:     string(jobs.StateFailed),
				Detail: "cancelled",
			})
			return m.store.Get(ctx, id)
		}
		if !errors.Is(err, jobs.ErrConflict) {
			return nil, err
		}
		if job, err = m.store.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: job %s kept changing during cancel", jobs.ErrConflict, id)
}

// Resubmit returns a failed job to detected and queues it. Completed stages
// are skipped on the next pass.
func (m *Manager) Resubmit(ctx context.Context, id string) error {
	if err := m.store.Resubmit(ctx, id); err != nil {
		return err
	}
	logger, closeLog := m.jobLogger(ctx, id)
	logger.Info("job resubmitted", logging.String(logging.FieldEventType, "job_resubmitted"))
	closeLog()
	m.deps.Bus.Publish(events.Event{
		Type:  events.StateChanged,
		JobID: id,
		From:  string(jobs.StateFailed),
		To:    string(jobs.StateDetected),
	})
	m.Submit(id)
	return nil
}
