package workflow

import (
	"context"

	"vidpilot/internal/logging"
	"vidpilot/internal/preflight"
)

// runPreflightChecks logs the readiness of external tools and services when
// the workflow starts. Failures do not stop the daemon: affected jobs fail
// at the stage that needs the missing dependency and can be retried.
func (m *Manager) runPreflightChecks(ctx context.Context) int {
	results := preflight.RunAll(ctx, m.cfg)
	failed := 0
	for _, r := range results {
		if r.Passed {
			m.logger.Info("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		failed++
		logging.WarnWithContext(m.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "jobs needing this dependency will fail"),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the daemon"),
		)
	}
	return failed
}
