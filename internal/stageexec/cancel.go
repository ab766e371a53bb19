package stageexec

import (
	"context"
	"errors"
)

// ErrCancelled marks a stage abandoned between attempts because the job's
// cancellation was requested.
var ErrCancelled = errors.New("cancelled")

type cancelSignalKey struct{}

// WithCancelSignal attaches a job cancellation signal to ctx. Once done is
// closed, Call stops waiting out backoff and starts no further attempt. A
// collaborator call already running is left to finish or time out.
func WithCancelSignal(ctx context.Context, done <-chan struct{}) context.Context {
	if done == nil {
		return ctx
	}
	return context.WithValue(ctx, cancelSignalKey{}, done)
}

func cancelSignal(ctx context.Context) <-chan struct{} {
	done, _ := ctx.Value(cancelSignalKey{}).(<-chan struct{})
	return done
}

func cancelRequested(ctx context.Context) bool {
	done := cancelSignal(ctx)
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// interruptible derives a context for waits between attempts that also ends
// when the job is cancelled.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	done := cancelSignal(ctx)
	waitCtx, cancel := context.WithCancel(ctx)
	if done == nil {
		return waitCtx, cancel
	}
	go func() {
		select {
		case <-done:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	return waitCtx, cancel
}
