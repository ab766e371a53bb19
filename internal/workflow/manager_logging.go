package workflow

import (
	"context"
	"errors"
	"log/slog"

	"vidpilot/internal/logging"
	"vidpilot/internal/services"
)

// jobLogger returns a logger writing to the daemon log and to the job's own
// log file. The returned function closes the job log.
func (m *Manager) jobLogger(ctx context.Context, jobID string) (*slog.Logger, func()) {
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	if jobID != "" {
		ctx = services.WithJobID(ctx, jobID)
	}
	logger := logging.WithContext(ctx, base)
	if jobID == "" || m.jobLogs == nil {
		return logger, func() {}
	}
	handler, closer, err := m.jobLogs.CreateHandler(jobID)
	if err != nil {
		logger.Debug("job log unavailable", logging.Error(err))
		return logger, func() {}
	}
	fileLogger := logging.WithContext(ctx, slog.New(handler).With(logging.String(logging.FieldComponent, "workflow")))
	tee := slog.New(teeHandler{primary: logger.Handler(), secondary: fileLogger.Handler()})
	return tee, func() { _ = closer.Close() }
}

// teeHandler sends every record to two handlers.
type teeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t.primary.Enabled(ctx, level) || t.secondary.Enabled(ctx, level)
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	if t.primary.Enabled(ctx, record.Level) {
		errs = append(errs, t.primary.Handle(ctx, record.Clone()))
	}
	if t.secondary.Enabled(ctx, record.Level) {
		errs = append(errs, t.secondary.Handle(ctx, record.Clone()))
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{primary: t.primary.WithAttrs(attrs), secondary: t.secondary.WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{primary: t.primary.WithGroup(name), secondary: t.secondary.WithGroup(name)}
}
