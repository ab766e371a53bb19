package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vidpilot/internal/config"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
)

// AttemptStore persists attempt counters.
type AttemptStore interface {
	IncrementAttempt(ctx context.Context, id, stage, lastError string) (int, error)
}

// Policy controls retries.
type Policy struct {
	Ceiling        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64
}

// PolicyFromConfig reads the retry policy from configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		Ceiling:        cfg.Stages.RetryCeiling,
		InitialBackoff: cfg.BackoffInitial(),
		MaxBackoff:     cfg.BackoffMax(),
		JitterFraction: 0.2,
	}
}

// Executor applies timeout, rate limiting and bounded retries to collaborator
// calls.
type Executor struct {
	store    AttemptStore
	policy   Policy
	timeout  func(stage string) time.Duration
	ratePer  func(stage string) float64
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewExecutor builds an executor backed by store.
func NewExecutor(cfg *config.Config, store AttemptStore, logger *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		policy:   PolicyFromConfig(cfg),
		timeout:  cfg.StageTimeout,
		ratePer:  cfg.StageRatePerMinute,
		logger:   logging.NewComponentLogger(logger, "stageexec"),
		sleep:    sleepContext,
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetPolicy replaces the retry policy.
func (e *Executor) SetPolicy(policy Policy) {
	e.policy = policy
}

// SetSleep replaces the backoff wait, for tests.
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	if fn != nil {
		e.sleep = fn
	}
}

// Call invokes fn until it succeeds, fails permanently, or a transient
// failure arrives with the durable attempt counter for (jobID, stage) at the
// ceiling. The counter is incremented before each retry, so a ceiling of n
// allows the first call plus n retries. priorAttempts is the counter value
// read from the job; retries spent before a restart still count.
//
// A job cancellation signal attached with WithCancelSignal ends the loop
// between attempts. The collaborator call itself only ends on its stage
// timeout or when ctx is done.
func (e *Executor) Call(ctx context.Context, jobID, stage string, priorAttempts int, fn func(ctx context.Context) error) error {
	ceiling := max(e.policy.Ceiling, 0)
	logger := logging.WithContext(ctx, e.logger).With(
		logging.Job(jobID),
		logging.Stage(stage),
	)
	if priorAttempts > ceiling {
		return &Error{
			Stage:    stage,
			Attempts: priorAttempts,
			Err:      services.Wrap(services.ErrTransient, stage, "retry", "attempt ceiling already reached", nil),
		}
	}

	attempts := priorAttempts
	for {
		if err := ctx.Err(); err != nil {
			return &Error{Stage: stage, Attempts: attempts, Permanent: true, Err: err}
		}
		if cancelRequested(ctx) {
			return cancelledError(stage, attempts)
		}
		if err := e.waitTurn(ctx, stage); err != nil {
			return e.waitError(ctx, stage, attempts, fmt.Errorf("rate limiter: %w", err))
		}

		err := e.invoke(ctx, stage, fn)
		if err == nil {
			if attempts > priorAttempts {
				logger.Info("stage recovered after retry",
					logging.String(logging.FieldEventType, "stage_retry_recovered"),
					logging.Int("retries", attempts),
				)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Stage: stage, Attempts: attempts, Permanent: true, Err: ctxErr}
		}

		if !services.IsTransient(err) {
			logging.ErrorWithContext(logger, "stage failed permanently", "stage_permanent_failure",
				logging.Int("retries", attempts),
				logging.String(logging.FieldErrorHint, services.Details(err).Hint),
				logging.Error(err),
			)
			return &Error{Stage: stage, Attempts: attempts, Permanent: true, Err: err}
		}
		if attempts >= ceiling {
			logging.ErrorWithContext(logger, "stage retries exhausted", "stage_retries_exhausted",
				logging.Int("retries", attempts),
				logging.Int("ceiling", ceiling),
				logging.Error(err),
			)
			return &Error{Stage: stage, Attempts: attempts, Err: err}
		}
		if cancelRequested(ctx) {
			return cancelledError(stage, attempts)
		}

		count, incErr := e.store.IncrementAttempt(ctx, jobID, stage, strings.TrimSpace(err.Error()))
		if incErr != nil {
			return fmt.Errorf("record %s attempt: %w", stage, incErr)
		}
		attempts = count

		delay := e.backoff(attempts)
		logging.WarnWithContext(logger, "stage attempt failed; retrying", "stage_retry",
			logging.Int("retry", attempts),
			logging.Int("ceiling", ceiling),
			logging.Duration("backoff", delay),
			logging.String(logging.FieldImpact, "stage will be retried"),
			logging.String(logging.FieldErrorHint, services.Details(err).Hint),
			logging.Error(err),
		)
		waitCtx, stop := interruptible(ctx)
		sleepErr := e.sleep(waitCtx, delay)
		stop()
		if sleepErr != nil {
			return e.waitError(ctx, stage, attempts, sleepErr)
		}
	}
}

// waitTurn blocks on the stage's rate limiter. The wait ends early when the
// job is cancelled.
func (e *Executor) waitTurn(ctx context.Context, stage string) error {
	waitCtx, stop := interruptible(ctx)
	defer stop()
	return e.limiter(stage).Wait(waitCtx)
}

// waitError classifies an interrupted wait: shutdown first, then job
// cancellation, then the wait's own failure.
func (e *Executor) waitError(ctx context.Context, stage string, attempts int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Stage: stage, Attempts: attempts, Permanent: true, Err: ctxErr}
	}
	if cancelRequested(ctx) {
		return cancelledError(stage, attempts)
	}
	return &Error{Stage: stage, Attempts: attempts, Permanent: true, Err: err}
}

func cancelledError(stage string, attempts int) *Error {
	return &Error{Stage: stage, Attempts: attempts, Permanent: true, Message: "cancelled", Err: ErrCancelled}
}

func (e *Executor) invoke(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	timeout := e.timeout(stage)
	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stage, "call", fmt.Sprintf("timed out after %s", timeout), err)
	}
	return err
}

func (e *Executor) limiter(stage string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limiter, ok := e.limiters[stage]; ok {
		return limiter
	}
	limit := rate.Inf
	if perMinute := e.ratePer(stage); perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	limiter := rate.NewLimiter(limit, 1)
	e.limiters[stage] = limiter
	return limiter
}

// backoff returns the wait after the given failed attempt: initial doubled
// per attempt, capped, with symmetric jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	base := e.policy.InitialBackoff
	if base <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		base *= 2
		if e.policy.MaxBackoff > 0 && base >= e.policy.MaxBackoff {
			base = e.policy.MaxBackoff
			break
		}
	}
	if fraction := e.policy.JitterFraction; fraction > 0 {
		spread := float64(base) * fraction
		base += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if e.policy.MaxBackoff > 0 && base > e.policy.MaxBackoff {
		base = e.policy.MaxBackoff
	}
	if base < 0 {
		base = 0
	}
	return base
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
