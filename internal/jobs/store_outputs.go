package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Output sources recorded alongside each revision.
const (
	SourceStage = "stage"
	SourceEdit  = "edit"
)

// RecordStageOutput stores the first output of stage for the job. When an
// output already exists the call is a no-op and reports recorded=false; the
// first write always wins.
func (s *Store) RecordStageOutput(ctx context.Context, id, stage string, payload []byte) (bool, error) {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return false, errors.New("record stage output: stage is empty")
	}
	if !json.Valid(payload) {
		return false, fmt.Errorf("record %s output: payload is not valid JSON", stage)
	}

	ctx = ensureContext(ctx)
	recorded := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		recorded = false
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		timestamp := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO stage_outputs (job_id, stage, revision, source, payload, created_at)
             VALUES (?, ?, 0, ?, ?, ?)
             ON CONFLICT (job_id, stage, revision) DO NOTHING`,
			id, stage, SourceStage, string(payload), timestamp,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		recorded = true
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE id = ?`, timestamp, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return false, err
	}
	if isForeignKeyViolation(err) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("record %s output: %w", stage, err)
	}
	return recorded, nil
}

// ReviseStageOutput appends a new revision of an existing stage output while
// the job is still in expected. editedFields are merged into the job's edit
// log, which the approval record later reports. Earlier revisions are never
// modified. It returns the new revision number.
func (s *Store) ReviseStageOutput(ctx context.Context, id string, expected State, stage string, payload []byte, editedFields ...string) (int, error) {
	if !json.Valid(payload) {
		return 0, fmt.Errorf("revise %s output: payload is not valid JSON", stage)
	}

	ctx = ensureContext(ctx)
	revision := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			current   string
			editedRaw sql.NullString
		)
		err := tx.QueryRowContext(ctx,
			`SELECT state, edited_fields_json FROM jobs WHERE id = ?`, id,
		).Scan(&current, &editedRaw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if State(current) != expected {
			return fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, current, expected)
		}

		var latest sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(revision) FROM stage_outputs WHERE job_id = ? AND stage = ?`, id, stage,
		).Scan(&latest); err != nil {
			return err
		}
		if !latest.Valid {
			return fmt.Errorf("%w: job %s has no %s output to revise", ErrNotFound, id, stage)
		}
		revision = int(latest.Int64) + 1

		timestamp := s.timestamp()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_outputs (job_id, stage, revision, source, payload, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			id, stage, revision, SourceEdit, string(payload), timestamp,
		); err != nil {
			return err
		}

		var existing []string
		if editedRaw.Valid && editedRaw.String != "" {
			if err := json.Unmarshal([]byte(editedRaw.String), &existing); err != nil {
				return fmt.Errorf("decode edited fields: %w", err)
			}
		}
		merged, err := json.Marshal(mergeFields(existing, editedFields))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET edited_fields_json = ?, updated_at = ? WHERE id = ? AND state = ?`,
			string(merged), timestamp, id, expected,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("revise %s output: %w", stage, err)
	}
	return revision, nil
}

// OutputHistory returns every revision of a stage output, oldest first.
func (s *Store) OutputHistory(ctx context.Context, id, stage string) ([]StageOutput, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT revision, source, payload, created_at FROM stage_outputs
         WHERE job_id = ? AND stage = ? ORDER BY revision`,
		id, stage,
	)
	if err != nil {
		return nil, fmt.Errorf("output history: %w", err)
	}
	defer rows.Close()
	var history []StageOutput
	for rows.Next() {
		var (
			out        StageOutput
			payload    string
			createdRaw string
		)
		if err := rows.Scan(&out.Revision, &out.Source, &payload, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan output history: %w", err)
		}
		out.Stage = stage
		out.Payload = json.RawMessage(payload)
		if created, err := parseTimeString(createdRaw); err == nil {
			out.RecordedAt = created
		}
		history = append(history, out)
	}
	return history, rows.Err()
}

// IncrementAttempt durably bumps the attempt counter of stage and returns the
// new value. lastError is kept for status output.
func (s *Store) IncrementAttempt(ctx context.Context, id, stage, lastError string) (int, error) {
	ctx = ensureContext(ctx)
	var attempts int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO stage_attempts (job_id, stage, attempts, last_error, updated_at)
             VALUES (?, ?, 1, ?, ?)
             ON CONFLICT (job_id, stage) DO UPDATE SET
                 attempts = attempts + 1,
                 last_error = excluded.last_error,
                 updated_at = excluded.updated_at
             RETURNING attempts`,
			id, stage, nullableString(lastError), s.timestamp(),
		).Scan(&attempts)
	})
	if isForeignKeyViolation(err) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("increment %s attempts: %w", stage, err)
	}
	return attempts, nil
}

// ResetAttempts clears the attempt counter of stage.
func (s *Store) ResetAttempts(ctx context.Context, id, stage string) error {
	if err := s.execWithoutResultRetry(ctx,
		`DELETE FROM stage_attempts WHERE job_id = ? AND stage = ?`, id, stage,
	); err != nil {
		return fmt.Errorf("reset %s attempts: %w", stage, err)
	}
	return nil
}

// LastAttemptError returns the most recent error message recorded for stage.
func (s *Store) LastAttemptError(ctx context.Context, id, stage string) (string, error) {
	ctx = ensureContext(ctx)
	var msg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_error FROM stage_attempts WHERE job_id = ? AND stage = ?`, id, stage,
	).Scan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s last error: %w", stage, err)
	}
	return msg.String, nil
}
