package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"vidpilot/internal/config"
	"vidpilot/internal/events"
	"vidpilot/internal/fileutil"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
)

// Store is the subset of jobs.Store used for submissions.
type Store interface {
	Create(ctx context.Context, fingerprint, sourcePath string, opts jobs.CreateOptions) (string, error)
}

// Submitter receives newly created jobs. The orchestrator implements it.
type Submitter interface {
	Submit(id string)
}

// Submission is the outcome of a successful Submit.
type Submission struct {
	ID      string
	Created bool
}

// Dispatcher validates detected files and creates jobs for them.
type Dispatcher struct {
	store      Store
	submitter  Submitter
	bus        events.Publisher
	logger     *slog.Logger
	root       string
	extensions []string
	interval   time.Duration
	timeout    time.Duration
}

// NewDispatcher builds a dispatcher from the watch configuration.
func NewDispatcher(cfg *config.Config, store Store, submitter Submitter, bus events.Publisher, logger *slog.Logger) *Dispatcher {
	exts := make([]string, 0, len(cfg.Watch.Extensions))
	for _, ext := range cfg.Watch.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	return &Dispatcher{
		store:      store,
		submitter:  submitter,
		bus:        bus,
		logger:     logging.NewComponentLogger(logger, "watch"),
		root:       cfg.Watch.Folder,
		extensions: exts,
		interval:   time.Duration(cfg.Watch.StableCheckSeconds) * time.Second,
		timeout:    time.Duration(cfg.Watch.StableTimeoutSeconds) * time.Second,
	}
}

// SetStableCheck overrides the size stabilisation poll interval and limit.
func (d *Dispatcher) SetStableCheck(interval, timeout time.Duration) {
	d.interval = interval
	d.timeout = timeout
}

// SetSubmitter wires the orchestrator after construction.
func (d *Dispatcher) SetSubmitter(s Submitter) {
	d.submitter = s
}

// OnFileDetected handles one watcher notification. Ignored files and
// duplicates return nil.
func (d *Dispatcher) OnFileDetected(ctx context.Context, path string) error {
	if !d.Accepts(path) {
		d.logger.Debug("ignoring file", logging.String("path", path))
		return nil
	}
	_, err := d.Submit(ctx, path, jobs.CreateOptions{})
	return err
}

// Accepts reports whether path looks like a video the pipeline should pick
// up: a known extension, not hidden and not inside a hidden directory of the
// watch folder.
func (d *Dispatcher) Accepts(path string) bool {
	if fileutil.IsHidden(path) {
		return false
	}
	if rel, err := filepath.Rel(d.root, filepath.Dir(path)); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			if strings.HasPrefix(part, ".") {
				return false
			}
		}
	}
	return slices.Contains(d.extensions, strings.ToLower(filepath.Ext(path)))
}

// Submit waits for path to stop growing, fingerprints it and creates a job
// with opts. Submitting content that already has a job is not an error; the
// existing id is returned with Created false.
func (d *Dispatcher) Submit(ctx context.Context, path string, opts jobs.CreateOptions) (Submission, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Submission{}, services.Wrap(services.ErrValidation, "watch", "resolve path", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Submission{}, services.Wrap(services.ErrValidation, "watch", "stat", "source file unavailable", err)
	}
	if info.IsDir() {
		return Submission{}, services.Wrap(services.ErrValidation, "watch", "stat", abs+" is a directory", nil)
	}
	if !slices.Contains(d.extensions, strings.ToLower(filepath.Ext(abs))) {
		return Submission{}, services.Wrap(services.ErrValidation, "watch", "extension",
			fmt.Sprintf("unsupported video extension %q", filepath.Ext(abs)), nil)
	}
	logger := d.logger.With(logging.String("path", abs))

	size, err := fileutil.WaitForStableSize(ctx, abs, d.interval, d.timeout)
	if err != nil {
		if errors.Is(err, fileutil.ErrNotStable) {
			logging.WarnWithContext(logger, "file never stopped changing; skipped", "watch_unstable",
				logging.String(logging.FieldImpact, "file is not submitted"),
				logging.String(logging.FieldErrorHint, "vidpilot add the file once the copy has finished"),
			)
		}
		return Submission{}, err
	}
	fingerprint, err := fileutil.HashFile(ctx, abs)
	if err != nil {
		return Submission{}, fmt.Errorf("fingerprint %s: %w", abs, err)
	}

	id, err := d.store.Create(ctx, fingerprint, abs, opts)
	if errors.Is(err, jobs.ErrAlreadyExists) {
		attrs := append([]logging.Attr{logging.Job(fingerprint)},
			logging.DecisionAttrs("submission", "duplicate", "fingerprint already has a job")...)
		logger.Debug("duplicate submission discarded", logging.Args(attrs...)...)
		return Submission{ID: strings.ToLower(fingerprint)}, nil
	}
	if err != nil {
		return Submission{}, err
	}

	logger.Info("job created",
		logging.Job(id),
		logging.String(logging.FieldEventType, "job_created"),
		logging.Int("size_bytes", int(size)),
	)
	if d.bus != nil {
		d.bus.Publish(events.Event{Type: events.JobCreated, JobID: id, To: string(jobs.StateDetected), Detail: abs})
	}
	if d.submitter != nil {
		d.submitter.Submit(id)
	}
	return Submission{ID: id, Created: true}, nil
}
