package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vidpilot/internal/config"
	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
)

// DecidedByAuto and DecidedByExpiry identify decisions the daemon made itself.
const (
	DecidedByAuto   = "auto"
	DecidedByExpiry = "expiry"
)

// Store is the subset of jobs.Store the gateway needs.
type Store interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	FindByPrefix(ctx context.Context, prefix string) (*jobs.Job, error)
	ListByState(ctx context.Context, states ...jobs.State) ([]*jobs.Job, error)
	Decide(ctx context.Context, id string, approval jobs.Approval, to jobs.State) error
	ReviseStageOutput(ctx context.Context, id string, expected jobs.State, stage string, payload []byte, editedFields ...string) (int, error)
	MarkApprovalRequested(ctx context.Context, id string, at time.Time) error
}

// Gateway sends approval requests and applies decisions.
type Gateway struct {
	store       Store
	messenger   Messenger
	bus         events.Publisher
	logger      *slog.Logger
	autoApprove bool
	expiry      time.Duration
	now         func() time.Time

	mu         sync.RWMutex
	onApproved func(jobID string)
}

// NewGateway builds a gateway. messenger may be nil, in which case requests
// are only logged and decisions must come from the CLI or HTTP API.
func NewGateway(cfg *config.Config, store Store, messenger Messenger, bus events.Publisher, logger *slog.Logger) *Gateway {
	return &Gateway{
		store:       store,
		messenger:   messenger,
		bus:         bus,
		logger:      logging.NewComponentLogger(logger, "approval"),
		autoApprove: cfg.Approval.AutoApprove,
		expiry:      cfg.ApprovalExpiry(),
		now:         time.Now,
	}
}

// SetMessenger replaces the messaging channel.
func (g *Gateway) SetMessenger(m Messenger) {
	g.messenger = m
}

// OnApproved registers the hook called after a job is approved, which the
// orchestrator uses to resume the job without waiting for its sweep.
func (g *Gateway) OnApproved(fn func(jobID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onApproved = fn
}

// Request delivers the approval request for a job that just entered
// awaiting_approval. Delivery failures are logged and never fail the job; the
// request is retried by Resume. Jobs flagged for auto-approval, and jobs
// that were approved before a resubmission, are approved without a message.
func (g *Gateway) Request(ctx context.Context, job *jobs.Job) {
	if job == nil || job.State != jobs.StateAwaitingApproval {
		return
	}
	logger := g.jobLogger(ctx, job.ID)

	if by, ok := g.autoDecider(job); ok {
		result, err := g.decide(ctx, job.ID, Approve(by))
		if err != nil {
			logging.ErrorWithContext(logger, "auto approval failed", "approval_auto_failed", logging.Error(err))
			return
		}
		logger.Info("job approved without review",
			logging.Args(logging.DecisionAttrs("approval", string(result.Status), by)...)...,
		)
		return
	}

	req, err := BuildRequest(job)
	if err != nil {
		logging.ErrorWithContext(logger, "approval request could not be built", "approval_request_invalid",
			logging.String(logging.FieldErrorHint, "inspect the metadata output with vidpilot show"),
			logging.Error(err),
		)
		return
	}
	if g.messenger == nil {
		logging.WarnWithContext(logger, "no messaging channel configured; approval request not sent", "approval_request_skipped",
			logging.String(logging.FieldImpact, "job waits for a CLI or API decision"),
			logging.String(logging.FieldErrorHint, "vidpilot approve "+req.ShortID),
			logging.String("title", req.Title),
		)
		return
	}
	if err := g.messenger.Send(ctx, req); err != nil {
		logging.WarnWithContext(logger, "approval request delivery failed", "approval_request_failed",
			logging.String(logging.FieldImpact, "request will be re-sent on the next resume sweep"),
			logging.String(logging.FieldErrorHint, services.Details(err).Hint),
			logging.Error(err),
		)
		return
	}
	if err := g.store.MarkApprovalRequested(ctx, job.ID, g.now()); err != nil && !errors.Is(err, jobs.ErrConflict) {
		logger.Warn("failed to record approval request delivery", logging.Error(err))
	}
	g.publish(events.Event{Type: events.ApprovalRequested, JobID: job.ID, Detail: req.Title})
	logger.Info("approval requested",
		logging.String(logging.FieldEventType, "approval_requested"),
		logging.String("title", req.Title),
		logging.Int("revision", req.Revision),
	)
}

func (g *Gateway) autoDecider(job *jobs.Job) (string, bool) {
	if job.Approval != nil && job.Approval.Decision == jobs.DecisionApprove {
		return job.Approval.DecidedBy, true
	}
	if g.autoApprove || job.Overrides.SkipApproval {
		return DecidedByAuto, true
	}
	return "", false
}

// OnDecision applies a decision to a job. It is safe to call any number of
// times with the same decision: unknown jobs are discarded, jobs that have
// left awaiting_approval are left untouched, and a racing decision that
// loses the compare-and-swap is a no-op. The returned error is reserved for
// store failures; everything else is reported through Result.
func (g *Gateway) OnDecision(ctx context.Context, jobID string, d Decision) (Result, error) {
	job, err := g.resolve(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		g.jobLogger(ctx, jobID).Info("decision for unknown job discarded",
			logging.Args(logging.DecisionAttrs("approval", string(StatusUnknownJob), string(d.Kind))...)...,
		)
		return Result{Status: StatusUnknownJob, JobID: jobID, Message: "unknown job " + jobID}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if d.Kind == KindEdit {
		return g.edit(ctx, job, d)
	}
	return g.decide(ctx, job.ID, d)
}

// Approve is the manual approval path used by the CLI and HTTP API.
func (g *Gateway) Approve(ctx context.Context, jobID, decidedBy string) (Result, error) {
	return g.OnDecision(ctx, jobID, Approve(decidedBy))
}

// Reject is the manual rejection path used by the CLI and HTTP API.
func (g *Gateway) Reject(ctx context.Context, jobID, decidedBy string) (Result, error) {
	return g.OnDecision(ctx, jobID, Reject(decidedBy))
}

func (g *Gateway) resolve(ctx context.Context, jobID string) (*jobs.Job, error) {
	jobID = strings.TrimSpace(jobID)
	job, err := g.store.Get(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return g.store.FindByPrefix(ctx, jobID)
	}
	return job, err
}

func (g *Gateway) decide(ctx context.Context, jobID string, d Decision) (Result, error) {
	var (
		decision jobs.Decision
		target   jobs.State
		evtType  events.Type
	)
	switch d.Kind {
	case KindApprove:
		decision, target, evtType = jobs.DecisionApprove, jobs.StateApproved, events.StateChanged
	case KindReject:
		decision, target, evtType = jobs.DecisionReject, jobs.StateRejected, events.JobRejected
	default:
		return Result{Status: StatusInvalid, JobID: jobID, Message: fmt.Sprintf("unknown decision %q", d.Kind)}, nil
	}
	by := strings.TrimSpace(d.DecidedBy)
	if by == "" {
		by = "unknown"
	}
	logger := g.jobLogger(ctx, jobID)

	err := g.store.Decide(ctx, jobID, jobs.Approval{DecidedBy: by, Decision: decision, DecidedAt: g.now()}, target)
	if errors.Is(err, jobs.ErrConflict) {
		current, getErr := g.store.Get(ctx, jobID)
		state := ""
		if getErr == nil {
			state = string(current.State)
		}
		logger.Info("decision ignored; job is not awaiting approval",
			logging.Args(logging.DecisionAttrs("approval", string(StatusNotPending), string(d.Kind))...)...,
		)
		return Result{Status: StatusNotPending, JobID: jobID, State: state, Message: "job is " + state}, nil
	}
	if errors.Is(err, jobs.ErrNotFound) {
		return Result{Status: StatusUnknownJob, JobID: jobID, Message: "unknown job " + jobID}, nil
	}
	if err != nil {
		return Result{}, err
	}

	attrs := append([]logging.Attr{logging.String(logging.FieldEventType, "approval_decided")},
		logging.DecisionAttrs("approval", string(d.Kind), by)...)
	logger.Info("approval decision recorded", logging.Args(attrs...)...)
	g.publish(events.Event{
		Type:   evtType,
		JobID:  jobID,
		From:   string(jobs.StateAwaitingApproval),
		To:     string(target),
		Detail: by,
	})
	if target == jobs.StateApproved {
		g.mu.RLock()
		hook := g.onApproved
		g.mu.RUnlock()
		if hook != nil {
			hook(jobID)
		}
	}
	return Result{Status: StatusApplied, JobID: jobID, State: string(target)}, nil
}

func (g *Gateway) edit(ctx context.Context, job *jobs.Job, d Decision) (Result, error) {
	if job.State != jobs.StateAwaitingApproval {
		return Result{Status: StatusNotPending, JobID: job.ID, State: string(job.State), Message: "job is " + string(job.State)}, nil
	}
	var draft stage.MetadataDraft
	if err := job.DecodeOutput(stage.Metadata, &draft); err != nil {
		return Result{}, err
	}
	updated, err := stage.ApplyEdit(draft, d.Field, d.Value)
	if err != nil {
		return Result{Status: StatusInvalid, JobID: job.ID, State: string(job.State), Message: services.Details(err).Message}, nil
	}
	payload, err := json.Marshal(updated)
	if err != nil {
		return Result{}, fmt.Errorf("encode edited metadata: %w", err)
	}
	field := strings.ToLower(strings.TrimSpace(d.Field))
	revision, err := g.store.ReviseStageOutput(ctx, job.ID, jobs.StateAwaitingApproval, stage.Metadata, payload, field)
	if errors.Is(err, jobs.ErrConflict) {
		return Result{Status: StatusNotPending, JobID: job.ID, Message: "job left awaiting approval"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	g.jobLogger(ctx, job.ID).Info("metadata edited during review",
		logging.String(logging.FieldEventType, "approval_edit"),
		logging.String("field", field),
		logging.Int("revision", revision),
		logging.String("edited_by", d.DecidedBy),
	)
	g.publish(events.Event{Type: events.MetadataEdited, JobID: job.ID, Detail: field})

	refreshed, err := g.store.Get(ctx, job.ID)
	if err != nil {
		return Result{}, err
	}
	g.Request(ctx, refreshed)
	return Result{Status: StatusApplied, JobID: job.ID, State: string(refreshed.State)}, nil
}

// Resume re-sends requests for awaiting jobs whose delivery was never
// recorded, for example after a crash between the state change and the send.
func (g *Gateway) Resume(ctx context.Context) (int, error) {
	pending, err := g.store.ListByState(ctx, jobs.StateAwaitingApproval)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, job := range pending {
		if job.ApprovalRequestedAt != nil {
			continue
		}
		if _, auto := g.autoDecider(job); !auto && g.messenger == nil {
			continue
		}
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		g.Request(ctx, job)
		sent++
	}
	return sent, nil
}

// ExpireStale rejects awaiting jobs whose request is older than the
// configured expiry. It does nothing when expiry is disabled.
func (g *Gateway) ExpireStale(ctx context.Context) (int, error) {
	if g.expiry <= 0 {
		return 0, nil
	}
	pending, err := g.store.ListByState(ctx, jobs.StateAwaitingApproval)
	if err != nil {
		return 0, err
	}
	cutoff := g.now().Add(-g.expiry)
	expired := 0
	for _, job := range pending {
		since := job.UpdatedAt
		if job.ApprovalRequestedAt != nil {
			since = *job.ApprovalRequestedAt
		}
		if since.After(cutoff) {
			continue
		}
		result, err := g.decide(ctx, job.ID, Reject(DecidedByExpiry))
		if err != nil {
			return expired, err
		}
		if result.Applied() {
			expired++
		}
	}
	return expired, nil
}

func (g *Gateway) publish(evt events.Event) {
	if g.bus != nil {
		g.bus.Publish(evt)
	}
}

func (g *Gateway) jobLogger(ctx context.Context, jobID string) *slog.Logger {
	return logging.WithContext(services.WithJobID(ctx, jobID), g.logger)
}
