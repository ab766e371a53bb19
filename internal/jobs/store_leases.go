package jobs

import (
	"context"
	"fmt"
	"time"
)

// Claim takes the processing lease on a non-terminal job for owner. It
// succeeds when the job is unclaimed, already held by owner, or the current
// lease is older than staleAfter. A false result means another runner holds
// the job.
func (s *Store) Claim(ctx context.Context, id, owner string, staleAfter time.Duration) (bool, error) {
	ctx = ensureContext(ctx)
	now := s.now()
	cutoff := now.Add(-staleAfter)
	terminal := terminalArgs()
	args := []any{owner, nullableTime(&now), id}
	args = append(args, terminal...)
	args = append(args, owner, nullableTime(&cutoff))
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed_by = ?, claimed_at = ?
         WHERE id = ?
           AND state NOT IN (`+makePlaceholders(len(terminal))+`)
           AND (claimed_by IS NULL OR claimed_by = ? OR claimed_at IS NULL OR claimed_at < ?)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Heartbeat renews the leases owner holds on ids.
func (s *Store) Heartbeat(ctx context.Context, owner string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	now := s.now()
	args := []any{nullableTime(&now), owner}
	for _, id := range ids {
		args = append(args, id)
	}
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE jobs SET claimed_at = ? WHERE claimed_by = ? AND id IN (`+makePlaceholders(len(ids))+`)`,
		args...,
	); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Release drops owner's lease on id.
func (s *Store) Release(ctx context.Context, id, owner string) error {
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE jobs SET claimed_by = NULL, claimed_at = NULL WHERE id = ? AND claimed_by = ?`,
		id, owner,
	); err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

// ReleaseAll clears every lease. The daemon calls it on startup, when the
// single-instance lock guarantees no other runner is alive.
func (s *Store) ReleaseAll(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed_by = NULL, claimed_at = NULL WHERE claimed_by IS NOT NULL`,
	)
	if err != nil {
		return 0, fmt.Errorf("release leases: %w", err)
	}
	return res.RowsAffected()
}
