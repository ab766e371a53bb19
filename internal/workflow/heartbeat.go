package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
)

// HeartbeatMonitor renews the leases of jobs this process is working on so
// another runner does not reclaim them.
type HeartbeatMonitor struct {
	store    *jobs.Store
	logger   *slog.Logger
	owner    string
	interval time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *jobs.Store, logger *slog.Logger, owner string, interval time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logger,
		owner:    owner,
		interval: interval,
	}
}

// Run renews leases for the ids returned by inflight until ctx ends. It
// returns immediately when the interval is not positive.
func (h *HeartbeatMonitor) Run(ctx context.Context, inflight func() []string) {
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.NewComponentLogger(h.logger, "workflow-heartbeat")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids := inflight()
			if len(ids) == 0 {
				continue
			}
			if err := h.store.Heartbeat(ctx, h.owner, ids...); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Info("daemon shutting down, heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
