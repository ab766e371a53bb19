package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"vidpilot/internal/api"
	"vidpilot/internal/approval"
	"vidpilot/internal/config"
	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
	"vidpilot/internal/watch"
	"vidpilot/internal/workflow"
)

// Loop is a background component that runs until its context ends, such as
// the folder watcher or the Telegram poller.
type Loop interface {
	Run(ctx context.Context) error
}

// Components bundles the services the daemon drives. Workflow, Approval and
// Intake are required; Loops may be empty.
type Components struct {
	Workflow *workflow.Manager
	Approval *approval.Gateway
	Intake   *watch.Dispatcher
	Bus      *events.Bus
	LogHub   *logging.StreamHub
	Loops    map[string]Loop
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *jobs.Store
	comps  Components
	jobs   *api.JobService

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	loopsWG sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger, comps Components) (*Daemon, error) {
	if cfg == nil || store == nil || comps.Workflow == nil || comps.Approval == nil || comps.Intake == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, approval gateway and intake")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		comps:    comps,
		jobs:     api.NewJobService(store),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the workflow manager, the
// background loops and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vidpilot daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.comps.Workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.comps.Workflow.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	for name, loop := range d.comps.Loops {
		if loop == nil {
			continue
		}
		d.loopsWG.Add(1)
		go d.runLoop(runCtx, name, loop)
	}

	d.running.Store(true)
	d.logger.Info("vidpilot daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("watch_folder", d.cfg.Watch.Folder),
	)
	return nil
}

func (d *Daemon) runLoop(ctx context.Context, name string, loop Loop) {
	defer d.loopsWG.Done()
	err := loop.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	logging.ErrorWithContext(d.logger, "background component stopped", "daemon_loop_stopped",
		logging.String("loop", name),
		logging.String(logging.FieldImpact, name+" is unavailable until the daemon restarts"),
		logging.String(logging.FieldErrorHint, "check the "+name+" configuration"),
		logging.Error(err),
	)
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.loopsWG.Wait()
	d.comps.Workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("vidpilot daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Addr returns the API listen address once started, or "" when the API is
// disabled.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		WatchFolder:  d.cfg.Watch.Folder,
		Telegram:     d.cfg.TelegramEnabled(),
		YouTube:      d.cfg.YouTubeEnabled(),
		Workflow:     api.FromStatusSummary(d.comps.Workflow.Status(ctx)),
	}
}

// Submit creates a job for a file on the daemon host, the same way the
// watcher does, with optional metadata overrides.
func (d *Daemon) Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error) {
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return api.SubmitResponse{}, services.Wrap(services.ErrValidation, "watch", "submit", "path is required", nil)
	}
	sub, err := d.comps.Intake.Submit(ctx, path, jobs.CreateOptions{Overrides: jobs.Overrides{
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
		Tags:         req.Tags,
		Privacy:      strings.ToLower(strings.TrimSpace(req.Privacy)),
		SkipApproval: req.SkipApproval,
	}})
	if err != nil {
		return api.SubmitResponse{}, err
	}
	return api.SubmitResponse{ID: sub.ID, Created: sub.Created}, nil
}

// Retry resubmits a failed job identified by id or unique prefix.
func (d *Daemon) Retry(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := d.store.FindByPrefix(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.comps.Workflow.Resubmit(ctx, job.ID); err != nil {
		return nil, err
	}
	return d.store.Get(ctx, job.ID)
}

// Cancel stops a job identified by id or unique prefix.
func (d *Daemon) Cancel(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := d.store.FindByPrefix(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.comps.Workflow.Cancel(ctx, job.ID)
}

// Decide applies an approval decision. Prefix resolution happens in the
// gateway.
func (d *Daemon) Decide(ctx context.Context, id string, decision approval.Decision) (approval.Result, error) {
	return d.comps.Approval.OnDecision(ctx, id, decision)
}
