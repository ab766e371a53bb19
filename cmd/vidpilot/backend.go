package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidpilot/internal/api"
	"vidpilot/internal/approval"
	"vidpilot/internal/config"
	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/watch"
	"vidpilot/internal/workflow"
)

// backend is what job commands need from either the daemon or the store.
type backend interface {
	Status(ctx context.Context) (api.DaemonStatus, error)
	ListJobs(ctx context.Context, states []string) ([]api.Job, error)
	GetJob(ctx context.Context, id string) (*api.Job, error)
	Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error)
	Approve(ctx context.Context, id, by string) (api.DecisionResponse, error)
	Reject(ctx context.Context, id, by string) (api.DecisionResponse, error)
	Edit(ctx context.Context, id string, req api.EditRequest) (api.DecisionResponse, error)
	Retry(ctx context.Context, id string) (*api.Job, error)
	Cancel(ctx context.Context, id string) (*api.Job, error)
}

var errJobNotFound = errors.New("job not found")

type remoteBackend struct {
	client *api.Client
}

func (r remoteBackend) Status(ctx context.Context) (api.DaemonStatus, error) {
	status, err := r.client.Status(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	return *status, nil
}

func (r remoteBackend) ListJobs(ctx context.Context, states []string) ([]api.Job, error) {
	return r.client.ListJobs(ctx, states...)
}

func (r remoteBackend) GetJob(ctx context.Context, id string) (*api.Job, error) {
	job, err := r.client.GetJob(ctx, id)
	if api.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", errJobNotFound, id)
	}
	return job, err
}

func (r remoteBackend) Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error) {
	resp, err := r.client.Submit(ctx, req)
	if err != nil {
		return api.SubmitResponse{}, err
	}
	return *resp, nil
}

func (r remoteBackend) Approve(ctx context.Context, id, by string) (api.DecisionResponse, error) {
	return derefDecision(r.client.Approve(ctx, id, by))
}

func (r remoteBackend) Reject(ctx context.Context, id, by string) (api.DecisionResponse, error) {
	return derefDecision(r.client.Reject(ctx, id, by))
}

func (r remoteBackend) Edit(ctx context.Context, id string, req api.EditRequest) (api.DecisionResponse, error) {
	return derefDecision(r.client.Edit(ctx, id, req))
}

func (r remoteBackend) Retry(ctx context.Context, id string) (*api.Job, error) {
	return r.client.Retry(ctx, id)
}

func (r remoteBackend) Cancel(ctx context.Context, id string) (*api.Job, error) {
	return r.client.Cancel(ctx, id)
}

func derefDecision(resp *api.DecisionResponse, err error) (api.DecisionResponse, error) {
	if err != nil {
		return api.DecisionResponse{}, err
	}
	return *resp, nil
}

// localBackend drives the same gateway, orchestrator and intake code the
// daemon uses, without starting workers. Approved or resubmitted jobs are
// picked up when the daemon next starts.
type localBackend struct {
	cfg      *config.Config
	store    *jobs.Store
	jobs     *api.JobService
	gateway  *approval.Gateway
	workflow *workflow.Manager
	intake   *watch.Dispatcher
}

func openLocalBackend(cfg *config.Config) (*localBackend, error) {
	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	logger := logging.NewNop()
	bus := events.NewBus(16)
	gateway := approval.NewGateway(cfg, store, nil, bus, logger)
	manager := workflow.NewManager(cfg, store, workflow.Dependencies{
		Approval: gateway,
		Bus:      bus,
	}, logger)
	return &localBackend{
		cfg:      cfg,
		store:    store,
		jobs:     api.NewJobService(store),
		gateway:  gateway,
		workflow: manager,
		intake:   watch.NewDispatcher(cfg, store, manager, bus, logger),
	}, nil
}

func (l *localBackend) Close() error {
	return l.store.Close()
}

func (l *localBackend) Status(ctx context.Context) (api.DaemonStatus, error) {
	return api.DaemonStatus{
		Running:      false,
		DatabasePath: l.store.Path(),
		LockFilePath: l.cfg.LockPath(),
		WatchFolder:  l.cfg.Watch.Folder,
		Telegram:     l.cfg.TelegramEnabled(),
		YouTube:      l.cfg.YouTubeEnabled(),
		Workflow:     api.FromStatusSummary(l.workflow.Status(ctx)),
	}, nil
}

func (l *localBackend) ListJobs(ctx context.Context, states []string) ([]api.Job, error) {
	parsed, err := api.ParseStates(states)
	if err != nil {
		return nil, err
	}
	return l.jobs.List(ctx, parsed...)
}

func (l *localBackend) GetJob(ctx context.Context, id string) (*api.Job, error) {
	job, err := l.jobs.Describe(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", errJobNotFound, id)
	}
	return job, nil
}

func (l *localBackend) Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error) {
	sub, err := l.intake.Submit(ctx, req.Path, jobs.CreateOptions{Overrides: jobs.Overrides{
		Title:        req.Title,
		Description:  req.Description,
		Tags:         req.Tags,
		Privacy:      req.Privacy,
		SkipApproval: req.SkipApproval,
	}})
	if err != nil {
		return api.SubmitResponse{}, err
	}
	return api.SubmitResponse{ID: sub.ID, Created: sub.Created}, nil
}

func (l *localBackend) Approve(ctx context.Context, id, by string) (api.DecisionResponse, error) {
	return l.decide(ctx, id, approval.Approve(by))
}

func (l *localBackend) Reject(ctx context.Context, id, by string) (api.DecisionResponse, error) {
	return l.decide(ctx, id, approval.Reject(by))
}

func (l *localBackend) Edit(ctx context.Context, id string, req api.EditRequest) (api.DecisionResponse, error) {
	return l.decide(ctx, id, approval.Edit(req.DecidedBy, req.Field, req.Value))
}

func (l *localBackend) decide(ctx context.Context, id string, d approval.Decision) (api.DecisionResponse, error) {
	result, err := l.gateway.OnDecision(ctx, id, d)
	if err != nil {
		return api.DecisionResponse{}, err
	}
	resp := api.DecisionResponse{
		Status:  string(result.Status),
		JobID:   result.JobID,
		State:   result.State,
		Message: result.Message,
	}
	switch result.Status {
	case approval.StatusApplied:
		return resp, nil
	case approval.StatusUnknownJob:
		return resp, fmt.Errorf("%w: %s", errJobNotFound, id)
	case approval.StatusNotPending:
		return resp, fmt.Errorf("job is not awaiting approval: %s", result.Message)
	default:
		return resp, errors.New(result.Message)
	}
}

func (l *localBackend) Retry(ctx context.Context, id string) (*api.Job, error) {
	job, err := l.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.workflow.Resubmit(ctx, job.ID); err != nil {
		return nil, err
	}
	return l.describe(ctx, job.ID)
}

func (l *localBackend) Cancel(ctx context.Context, id string) (*api.Job, error) {
	job, err := l.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := l.workflow.Cancel(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	converted := api.FromJob(updated)
	return &converted, nil
}

func (l *localBackend) resolve(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := l.store.FindByPrefix(ctx, strings.ToLower(strings.TrimSpace(id)))
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", errJobNotFound, id)
	}
	return job, err
}

func (l *localBackend) describe(ctx context.Context, id string) (*api.Job, error) {
	job, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	converted := api.FromJob(job)
	return &converted, nil
}
