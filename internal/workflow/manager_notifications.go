package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/notifications"
	"vidpilot/internal/stage"
)

// forwardNotifications turns job outcome events into push notifications.
func (m *Manager) forwardNotifications(ctx context.Context) {
	defer m.wg.Done()
	if m.deps.Bus == nil || m.deps.Notifier == nil {
		return
	}
	ch, unsubscribe := m.deps.Bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			m.notifyEvent(ctx, evt)
		}
	}
}

func (m *Manager) notifyEvent(ctx context.Context, evt events.Event) {
	var (
		event   notifications.Event
		payload notifications.Payload
	)
	switch evt.Type {
	case events.JobPublished:
		event = notifications.EventJobPublished
		payload = notifications.Payload{"url": evt.Detail}
	case events.JobFailed:
		event = notifications.EventJobFailed
		payload = notifications.Payload{"reason": evt.Detail}
	case events.JobRejected:
		event = notifications.EventJobRejected
		payload = notifications.Payload{"decided_by": evt.Detail}
	default:
		return
	}
	payload["job_id"] = evt.JobID
	if job, err := m.store.Get(ctx, evt.JobID); err == nil {
		payload["source"] = filepath.Base(job.SourcePath)
		if job.Failure != nil {
			payload["stage"] = job.Failure.Stage
		}
		var draft stage.MetadataDraft
		if job.HasOutput(stage.Metadata) && job.DecodeOutput(stage.Metadata, &draft) == nil {
			payload["title"] = draft.Title
		} else {
			payload["title"] = payload["source"]
		}
	}
	if err := m.deps.Notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send notification")
		} else {
			m.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
		}
	}
}

func (m *Manager) onJobStarted(ctx context.Context) {
	if m.deps.Notifier == nil {
		return
	}
	m.mu.Lock()
	if m.queueActive {
		m.mu.Unlock()
		return
	}
	m.queueActive = true
	m.queueStart = time.Now()
	m.mu.Unlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not get job stats for start notification")
		} else {
			m.logger.Warn("job stats unavailable for start notification; notification skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_stats_failed"),
				logging.String(logging.FieldErrorHint, "check job database access"),
				logging.String(logging.FieldImpact, "start notification will not be sent"),
			)
		}
		return
	}
	if err := m.deps.Notifier.Publish(ctx, notifications.EventQueueStarted, notifications.Payload{"count": countActiveJobs(stats)}); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send queue start notification")
		} else {
			m.logger.Debug("queue start notification failed", logging.Error(err))
		}
	}
}

// checkQueueCompletion sends the queue-idle notification once no job is left
// that a worker could advance. Jobs waiting for approval do not count.
func (m *Manager) checkQueueCompletion(ctx context.Context) {
	if m.deps.Notifier == nil {
		return
	}
	m.mu.Lock()
	active := m.queueActive
	busy := len(m.inflight) > 0 || len(m.queued) > 0
	m.mu.Unlock()
	if !active || busy {
		return
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Warn("job stats unavailable for completion notification; notification skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_stats_failed"),
				logging.String(logging.FieldErrorHint, "check job database access"),
				logging.String(logging.FieldImpact, "completion notification will not be sent"),
			)
		}
		return
	}
	if countActiveJobs(stats) > 0 {
		return
	}

	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	start := m.queueStart
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	if err := m.deps.Notifier.Publish(ctx, notifications.EventQueueCompleted, notifications.Payload{
		"published": stats[jobs.StatePublished],
		"failed":    stats[jobs.StateFailed],
		"duration":  time.Since(start),
	}); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Debug("queue completion notification failed", logging.Error(err))
	}
}

func countActiveJobs(stats jobs.Stats) int {
	total := 0
	for _, state := range resumableStates {
		total += stats[state]
	}
	return total
}
