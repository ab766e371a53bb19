package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const jobColumns = "id, source_path, state, overrides_json, failed_stage, failure_reason, approval_decision, approval_decided_by, approval_decided_at, approval_requested_at, edited_fields_json, video_url, video_id, published_at, upload_started_at, cancel_requested, claimed_by, claimed_at, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id                 string
		sourcePath         string
		stateStr           string
		overridesRaw       sql.NullString
		failedStage        sql.NullString
		failureReason      sql.NullString
		approvalDecision   sql.NullString
		approvalDecidedBy  sql.NullString
		approvalDecidedRaw sql.NullString
		approvalRequestRaw sql.NullString
		editedFieldsRaw    sql.NullString
		videoURL           sql.NullString
		videoID            sql.NullString
		publishedRaw       sql.NullString
		uploadStartedRaw   sql.NullString
		cancelRequested    sql.NullInt64
		claimedBy          sql.NullString
		claimedRaw         sql.NullString
		createdRaw         sql.NullString
		updatedRaw         sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourcePath,
		&stateStr,
		&overridesRaw,
		&failedStage,
		&failureReason,
		&approvalDecision,
		&approvalDecidedBy,
		&approvalDecidedRaw,
		&approvalRequestRaw,
		&editedFieldsRaw,
		&videoURL,
		&videoID,
		&publishedRaw,
		&uploadStartedRaw,
		&cancelRequested,
		&claimedBy,
		&claimedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		SourcePath:      sourcePath,
		State:           State(stateStr),
		Outputs:         map[string]StageOutput{},
		Attempts:        map[string]int{},
		CancelRequested: cancelRequested.Valid && cancelRequested.Int64 != 0,
		ClaimedBy:       claimedBy.String,
	}

	if overridesRaw.Valid && overridesRaw.String != "" {
		if err := json.Unmarshal([]byte(overridesRaw.String), &job.Overrides); err != nil {
			return nil, fmt.Errorf("decode overrides for %s: %w", id, err)
		}
	}
	if editedFieldsRaw.Valid && editedFieldsRaw.String != "" {
		if err := json.Unmarshal([]byte(editedFieldsRaw.String), &job.EditedFields); err != nil {
			return nil, fmt.Errorf("decode edited fields for %s: %w", id, err)
		}
	}
	if failedStage.Valid || failureReason.Valid {
		job.Failure = &Failure{Stage: failedStage.String, Reason: failureReason.String}
	}
	if approvalDecision.Valid && approvalDecision.String != "" {
		approval := &Approval{
			Decision:     Decision(approvalDecision.String),
			DecidedBy:    approvalDecidedBy.String,
			EditedFields: append([]string(nil), job.EditedFields...),
		}
		if decided, err := parseTimeString(approvalDecidedRaw.String); err == nil {
			approval.DecidedAt = decided
		}
		job.Approval = approval
	}
	if videoURL.Valid && videoURL.String != "" {
		result := &FinalResult{VideoURL: videoURL.String, VideoID: videoID.String}
		if published, err := parseTimeString(publishedRaw.String); err == nil {
			result.PublishedAt = published
		}
		job.FinalResult = result
	}
	job.ApprovalRequestedAt = parseNullableTime(approvalRequestRaw)
	job.UploadStartedAt = parseNullableTime(uploadStartedRaw)
	job.ClaimedAt = parseNullableTime(claimedRaw)

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

// loadDetails attaches the effective stage outputs and attempt counters.
func (s *Store) loadDetails(ctx context.Context, jobs []*Job) error {
	if len(jobs) == 0 {
		return nil
	}
	byID := make(map[string]*Job, len(jobs))
	args := make([]any, 0, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
		args = append(args, job.ID)
	}
	placeholders := makePlaceholders(len(args))

	rows, err := s.db.QueryContext(ctx,
		`SELECT o.job_id, o.stage, o.revision, o.source, o.payload, o.created_at
         FROM stage_outputs o
         JOIN (
             SELECT job_id, stage, MAX(revision) AS revision
             FROM stage_outputs
             WHERE job_id IN (`+placeholders+`)
             GROUP BY job_id, stage
         ) latest ON latest.job_id = o.job_id AND latest.stage = o.stage AND latest.revision = o.revision`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("load stage outputs: %w", err)
	}
	for rows.Next() {
		var (
			jobID, stage, source, payload, createdRaw string
			revision                                  int
		)
		if err := rows.Scan(&jobID, &stage, &revision, &source, &payload, &createdRaw); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan stage output: %w", err)
		}
		out := StageOutput{
			Stage:    stage,
			Revision: revision,
			Source:   source,
			Payload:  json.RawMessage(payload),
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			out.RecordedAt = created
		}
		if job := byID[jobID]; job != nil {
			job.Outputs[stage] = out
		}
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close stage outputs: %w", err)
	}

	attemptRows, err := s.db.QueryContext(ctx,
		`SELECT job_id, stage, attempts FROM stage_attempts WHERE job_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("load attempts: %w", err)
	}
	defer attemptRows.Close()
	for attemptRows.Next() {
		var (
			jobID, stage string
			attempts     int
		)
		if err := attemptRows.Scan(&jobID, &stage, &attempts); err != nil {
			return fmt.Errorf("scan attempts: %w", err)
		}
		if job := byID[jobID]; job != nil {
			job.Attempts[stage] = attempts
		}
	}
	return attemptRows.Err()
}

// missingOrConflict explains a compare-and-swap that touched no rows.
func (s *Store) missingOrConflict(ctx context.Context, q queryer, id string, expected ...State) error {
	var current string
	err := q.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read state of %s: %w", id, err)
	}
	want := make([]string, 0, len(expected))
	for _, state := range expected {
		want = append(want, string(state))
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, current, strings.Join(want, "|"))
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func stateArgs(states []State) []any {
	args := make([]any, 0, len(states))
	for _, state := range states {
		args = append(args, string(state))
	}
	return args
}

func terminalArgs() []any {
	states := make([]State, 0, len(terminalStates))
	for _, state := range allStates {
		if state.IsTerminal() {
			states = append(states, state)
		}
	}
	return stateArgs(states)
}

func mergeFields(existing, added []string) []string {
	set := make(map[string]struct{}, len(existing)+len(added))
	for _, field := range existing {
		set[field] = struct{}{}
	}
	for _, field := range added {
		field = strings.TrimSpace(field)
		if field != "" {
			set[field] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for field := range set {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}
