package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultMaxPendingCycles is used when NewStore is given a non-positive
// limit, matching internal/config's own MAX_PENDING_CYCLES default.
const defaultMaxPendingCycles = 3

// Store is the Work Claimer and domain-status mutator. Claim needs its own
// transaction boundary for the skip-locked select-then-update, so Store
// holds the pool directly rather than the generic db.DBTX used by simpler
// stores elsewhere in this codebase.
type Store struct {
	pool             *pgxpool.Pool
	maxPendingCycles int
}

// NewStore creates a domain Store backed by pool. maxPendingCycles is the
// number of consecutive pending cycles (§7) after which UpdateStatus parks a
// domain at error instead of returning it to pending.
func NewStore(pool *pgxpool.Pool, maxPendingCycles int) *Store {
	if maxPendingCycles <= 0 {
		maxPendingCycles = defaultMaxPendingCycles
	}
	return &Store{pool: pool, maxPendingCycles: maxPendingCycles}
}

// Claim atomically reserves up to batchSize pending domains tagged with
// source for ownerID, in a single transaction using FOR UPDATE SKIP LOCKED
// so two concurrent claimers never receive the same row (§4.5, §8
// Exclusivity). Domains are ordered oldest-processed-first so the claim
// naturally rotates across the catalog.
func (s *Store) Claim(ctx context.Context, ownerID, source string, batchSize int, leaseTTL time.Duration) ([]Claimed, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once Commit has succeeded

	rows, err := tx.Query(ctx, `
		SELECT id, hostname FROM domains
		WHERE status = 'pending' AND source = $1
		ORDER BY last_processed_at ASC NULLS FIRST
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, source, batchSize)
	if err != nil {
		return nil, fmt.Errorf("selecting claimable domains: %w", err)
	}

	var claimed []Claimed
	var ids []uuid.UUID
	for rows.Next() {
		var c Claimed
		var id uuid.UUID
		if err := rows.Scan(&id, &c.Hostname); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning claimable domain: %w", err)
		}
		c.ID = id.String()
		claimed = append(claimed, c)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating claimable domains: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE domains
		SET status = 'processing',
		    lease_owner = $1,
		    lease_expires_at = $2,
		    process_count = process_count + 1,
		    updated_at = now()
		WHERE id = ANY($3)
	`, ownerID, time.Now().Add(leaseTTL), ids); err != nil {
		return nil, fmt.Errorf("updating claimed domains: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	return claimed, nil
}

// UpdateStatus transitions a claimed domain to newStatus, with an optimistic
// check that ownerID still matches the row's lease_owner (§4.9). Transitions
// out of processing always clear the lease, since lease_owner is non-null
// iff status=processing.
//
// A transition to pending increments pending_cycles instead of landing on
// pending outright once that counter would reach maxPendingCycles: the
// domain is parked at error instead, so a domain that never recovers stops
// cycling through the claim loop forever (§7). Any other transition resets
// pending_cycles to 0. The caller-requested status is not necessarily what
// gets persisted, so the actual persisted status is returned.
func (s *Store) UpdateStatus(ctx context.Context, id, ownerID string, newStatus Status, errorIncrement int) (Status, error) {
	var persisted Status
	err := s.pool.QueryRow(ctx, `
		UPDATE domains
		SET status = CASE
		        WHEN $1 = 'pending' AND pending_cycles + 1 >= $5 THEN 'error'
		        ELSE $1
		    END,
		    pending_cycles = CASE WHEN $1 = 'pending' THEN pending_cycles + 1 ELSE 0 END,
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    error_count = error_count + $2,
		    last_processed_at = now(),
		    updated_at = now()
		WHERE id = $3 AND lease_owner = $4
		RETURNING status
	`, newStatus, errorIncrement, id, ownerID, s.maxPendingCycles).Scan(&persisted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("domain %s: lease owner %q does not hold the current lease", id, ownerID)
		}
		return "", fmt.Errorf("updating domain status: %w", err)
	}
	return persisted, nil
}

// ReleaseLease returns a claimed domain to pending without recording a
// completion outcome, used on cooperative cancellation (§5): the lease is
// freed, process_count is left as Claim incremented it, and no error is
// counted since the work was not attempted to completion.
func (s *Store) ReleaseLease(ctx context.Context, id, ownerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE domains
		SET status = 'pending', lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND lease_owner = $2
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("releasing domain lease: %w", err)
	}
	return nil
}

// ReleaseExpiredLeases is the periodic sweeper (§4.5): any row still
// processing past its lease_expires_at is returned to pending. Returns the
// ids of the released rows so the caller can log a release event per row.
func (s *Store) ReleaseExpiredLeases(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE domains
		SET status = 'pending', lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE status = 'processing' AND lease_expires_at < now()
		RETURNING id
	`)
	if err != nil {
		return nil, fmt.Errorf("releasing expired leases: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning released domain id: %w", err)
		}
		ids = append(ids, id.String())
	}
	return ids, rows.Err()
}

// MarkPendingForTier sets matching domains back to pending so a Scheduler
// run's claim-loop picks them up, applying the tier's SQL predicate and limit.
// A limit of 0 or less applies no limit.
func (s *Store) MarkPendingForTier(ctx context.Context, predicate string, limit int) (int64, error) {
	if limit < 0 {
		limit = 0
	}
	query := fmt.Sprintf(`
		UPDATE domains
		SET status = 'pending', updated_at = now()
		WHERE status IN ('completed', 'completed_partial', 'error') AND (%s)
		AND id IN (SELECT id FROM domains WHERE status IN ('completed', 'completed_partial', 'error') AND (%s) LIMIT NULLIF($1::bigint, 0))
	`, predicate, predicate)
	tag, err := s.pool.Exec(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("marking domains pending for tier: %w", err)
	}
	return tag.RowsAffected(), nil
}
