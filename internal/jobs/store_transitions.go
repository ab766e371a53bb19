package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Transition moves the job from -> to when it is still in from. Failure has
// its own entry point (Fail) because it carries a reason; approval decisions
// go through Decide and publishing through RecordFinalResult, but the plain
// edges are accepted here as well.
func (s *Store) Transition(ctx context.Context, id string, from, to State) error {
	ctx = ensureContext(ctx)
	if to == StateFailed {
		return fmt.Errorf("%w: use Fail to enter %s", ErrInvalidTransition, StateFailed)
	}
	if err := validateTransition(from, to); err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to, s.timestamp(), id, from,
	)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, s.db, id, from)
	}
	return nil
}

// Fail moves a job from a non-terminal state into failed, recording the
// stage and reason. The lease is dropped with it.
func (s *Store) Fail(ctx context.Context, id string, from State, stage, reason string) error {
	ctx = ensureContext(ctx)
	if err := validateTransition(from, StateFailed); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown failure"
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET state = ?, failed_stage = ?, failure_reason = ?, claimed_by = NULL, claimed_at = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateFailed, nullableString(stage), reason, s.timestamp(), id, from,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, s.db, id, from)
	}
	return nil
}

// Decide resolves the approval gate: awaiting_approval -> to (approved or
// rejected) together with the approval record, in one statement. A second
// decision finds the job past the gate and gets ErrConflict.
func (s *Store) Decide(ctx context.Context, id string, approval Approval, to State) error {
	ctx = ensureContext(ctx)
	if err := validateTransition(StateAwaitingApproval, to); err != nil {
		return err
	}
	if to == StateFailed {
		return fmt.Errorf("%w: decision cannot fail a job", ErrInvalidTransition)
	}
	switch {
	case to == StateApproved && approval.Decision != DecisionApprove,
		to == StateRejected && approval.Decision != DecisionReject:
		return fmt.Errorf("%w: decision %q does not lead to %s", ErrInvalidTransition, approval.Decision, to)
	}
	decidedAt := approval.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = s.now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET state = ?, approval_decision = ?, approval_decided_by = ?, approval_decided_at = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		to, string(approval.Decision), nullableString(approval.DecidedBy), nullableTime(&decidedAt), s.timestamp(),
		id, StateAwaitingApproval,
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, s.db, id, StateAwaitingApproval)
	}
	return nil
}

// RecordFinalResult completes a publish: uploading -> published with the
// result stored in the same statement.
func (s *Store) RecordFinalResult(ctx context.Context, id string, result FinalResult) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(result.VideoURL) == "" {
		return errors.New("record final result: video url is empty")
	}
	publishedAt := result.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = s.now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET state = ?, video_url = ?, video_id = ?, published_at = ?, claimed_by = NULL, claimed_at = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StatePublished, result.VideoURL, nullableString(result.VideoID), nullableTime(&publishedAt), s.timestamp(),
		id, StateUploading,
	)
	if err != nil {
		return fmt.Errorf("record final result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, s.db, id, StateUploading)
	}
	return nil
}

// RecordCancelledUpload stores the result of an upload that finished after
// cancellation was requested: uploading -> failed(upload, reason) with the
// video kept on the job, so a resubmission adopts it instead of uploading
// again.
func (s *Store) RecordCancelledUpload(ctx context.Context, id string, result FinalResult, reason string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(result.VideoURL) == "" {
		return errors.New("record cancelled upload: video url is empty")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	publishedAt := result.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = s.now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET state = ?, failed_stage = 'upload', failure_reason = ?, video_url = ?, video_id = ?, published_at = ?,
             claimed_by = NULL, claimed_at = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateFailed, reason, result.VideoURL, nullableString(result.VideoID), nullableTime(&publishedAt), s.timestamp(),
		id, StateUploading,
	)
	if err != nil {
		return fmt.Errorf("record cancelled upload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, s.db, id, StateUploading)
	}
	return nil
}

// MarkUploadStarted records that an upload call is about to be made. A job
// with this marker and no final result has an ambiguous outcome.
func (s *Store) MarkUploadStarted(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	now := s.now()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET upload_started_at = ?, updated_at = ? WHERE id = ? AND state = ?`,
		nullableTime(&now), s.timestamp(), id, StateUploading,
	)
	if err != nil {
		return fmt.Errorf("mark upload started: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, s.db, id, StateUploading)
	}
	return nil
}

// MarkApprovalRequested records that the approval request was delivered.
func (s *Store) MarkApprovalRequested(ctx context.Context, id string, at time.Time) error {
	ctx = ensureContext(ctx)
	if at.IsZero() {
		at = s.now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET approval_requested_at = ?, updated_at = ? WHERE id = ? AND state = ?`,
		nullableTime(&at), s.timestamp(), id, StateAwaitingApproval,
	)
	if err != nil {
		return fmt.Errorf("mark approval requested: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrConflict(ctx, s.db, id, StateAwaitingApproval)
	}
	return nil
}

// RequestCancel flags a non-terminal job for cancellation and returns the
// job as it is after the flag is set.
func (s *Store) RequestCancel(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	terminal := terminalArgs()
	args := append([]any{s.timestamp(), id}, terminal...)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND state NOT IN (`+makePlaceholders(len(terminal))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		job, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return job, fmt.Errorf("%w: %s is %s", ErrTerminal, id, job.State)
	}
	return s.Get(ctx, id)
}

// Resubmit returns a failed job to detected. The failure record, the cancel
// flag and the failed stage's attempt counter are cleared; recorded stage
// outputs and any earlier approval decision are kept so completed work is
// not repeated.
func (s *Store) Resubmit(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			current     string
			failedStage sql.NullString
		)
		err := tx.QueryRowContext(ctx,
			`SELECT state, failed_stage FROM jobs WHERE id = ?`, id,
		).Scan(&current, &failedStage)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if State(current) != StateFailed {
			return fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, current, StateFailed)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET state = ?, failed_stage = NULL, failure_reason = NULL, cancel_requested = 0,
                 approval_requested_at = NULL, claimed_by = NULL, claimed_at = NULL, updated_at = ?
             WHERE id = ? AND state = ?`,
			StateDetected, s.timestamp(), id, StateFailed,
		); err != nil {
			return err
		}
		if failedStage.Valid && failedStage.String != "" {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM stage_attempts WHERE job_id = ? AND stage = ?`, id, failedStage.String,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("resubmit job: %w", err)
	}
	return nil
}
