package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Create inserts a new job in the detected state keyed by fingerprint and
// returns its id. A second call for the same fingerprint fails with
// ErrAlreadyExists and leaves the existing job untouched.
func (s *Store) Create(ctx context.Context, fingerprint, sourcePath string, opts CreateOptions) (string, error) {
	id := strings.ToLower(strings.TrimSpace(fingerprint))
	if id == "" {
		return "", errors.New("create job: fingerprint is empty")
	}
	if strings.TrimSpace(sourcePath) == "" {
		return "", errors.New("create job: source path is empty")
	}

	var overrides any
	if !opts.Overrides.IsZero() {
		raw, err := json.Marshal(opts.Overrides)
		if err != nil {
			return "", fmt.Errorf("marshal overrides: %w", err)
		}
		overrides = string(raw)
	}

	timestamp := s.timestamp()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (id, source_path, state, overrides_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id,
		sourcePath,
		StateDetected,
		overrides,
		timestamp,
		timestamp,
	)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// Get fetches a job with its effective stage outputs and attempt counters.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := s.loadDetails(ctx, []*Job{job}); err != nil {
		return nil, err
	}
	return job, nil
}

// FindByPrefix resolves a unique id prefix, which is how operators refer to
// jobs in chat commands and the CLI.
func (s *Store) FindByPrefix(ctx context.Context, prefix string) (*Job, error) {
	ctx = ensureContext(ctx)
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE substr(id, 1, ?) = ? ORDER BY id LIMIT 2`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("find job by prefix: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close job ids: %w", err)
	}
	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return s.Get(ctx, ids[0])
	default:
		return nil, fmt.Errorf("%w: prefix %q matches more than one job", ErrNotFound, prefix)
	}
}

// List returns jobs ordered by creation time, optionally filtered by state.
// Results carry outputs and attempts like Get.
func (s *Store) List(ctx context.Context, states ...State) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(states) > 0 {
		query += ` WHERE state IN (` + makePlaceholders(len(states)) + `)`
		args = stateArgs(states)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close jobs: %w", err)
	}
	if err := s.loadDetails(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListByState returns the jobs currently in any of states. At least one
// state is required.
func (s *Store) ListByState(ctx context.Context, states ...State) ([]*Job, error) {
	if len(states) == 0 {
		return nil, errors.New("list by state: no states given")
	}
	return s.List(ctx, states...)
}

// Stats counts jobs per state. States without jobs are reported as zero.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(Stats, len(allStates))
	for _, state := range allStates {
		stats[state] = 0
	}
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[State(state)] = count
	}
	return stats, rows.Err()
}
