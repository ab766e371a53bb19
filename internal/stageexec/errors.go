package stageexec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vidpilot/internal/services"
)

// Error is the terminal outcome of a stage that could not complete. The
// caller turns it into a failed job.
type Error struct {
	Stage     string
	Attempts  int
	Permanent bool
	// Message, when set, replaces the derived failure reason.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	kind := "retries exhausted"
	if e.Permanent {
		kind = "permanent failure"
	}
	return fmt.Sprintf("%s: %s after %d retries: %v", e.Stage, kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Reason renders the failure reason stored on the job.
func (e *Error) Reason() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, ErrCancelled) {
		return "cancelled"
	}
	msg := strings.TrimSpace(services.Details(e.Err).Message)
	if msg == "" {
		msg = "unknown error"
	}
	if !e.Permanent {
		return fmt.Sprintf("%s (after %d retries)", msg, e.Attempts)
	}
	return msg
}

// FailureReason extracts the reason to record for any error returned by Run.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var stageErr *Error
	if errors.As(err, &stageErr) {
		return stageErr.Reason()
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return strings.TrimSpace(services.Details(err).Message)
}
