package workflow

import (
	"context"
	"sort"

	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Workers     int
	Owner       string
	InFlight    []string
	Queued      int
	LastError   string
	LastJob     *jobs.Job
	JobStats    jobs.Stats
	StageHealth map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.Lock()
	running := m.running
	lastErr := m.lastErr
	lastJob := m.lastJob
	queued := len(m.queued)
	inflight := make([]string, 0, len(m.inflight))
	for id := range m.inflight {
		inflight = append(inflight, id)
	}
	m.mu.Unlock()
	sort.Strings(inflight)

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}

	health := stage.ProbeAll(ctx, m.deps.Health)

	summary := StatusSummary{
		Running:     running,
		Workers:     m.workers,
		Owner:       m.owner,
		InFlight:    inflight,
		Queued:      queued,
		JobStats:    stats,
		StageHealth: health,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastJob != nil {
		copy := *lastJob
		summary.LastJob = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *jobs.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
