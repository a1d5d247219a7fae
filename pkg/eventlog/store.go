package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beargallbladder/domainrunner/internal/db"
)

// Store appends events and replays them back in total order. Events are
// never updated or deleted; insertion order (the id serial) breaks ties
// between events sharing a timestamp, per the ordering guarantee in §5.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an eventlog Store backed by dbtx.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Append inserts e, stamping CreatedAt server-side. The caller's e.CreatedAt
// is ignored; the database clock is authoritative so the ordering guarantee
// holds even across workers with skewed clocks.
func (s *Store) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshaling event payload: %w", err)
	}
	if _, err := s.dbtx.Exec(ctx, `
		INSERT INTO events (domain_id, kind, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, e.DomainID, string(e.Kind), payload); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// Recent returns the most recent limit events, oldest first, for a given
// domain.
func (s *Store) Recent(ctx context.Context, domainID string, limit int) ([]Event, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT id, domain_id, kind, payload, created_at FROM (
			SELECT id, domain_id, kind, payload, created_at
			FROM events
			WHERE domain_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`, domainID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var kind string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.DomainID, &kind, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Kind = Kind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshaling event payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountKindSince counts events of kind since cutoff, across all domains.
func (s *Store) CountKindSince(ctx context.Context, kind Kind, since time.Time) (int64, error) {
	var count int64
	if err := s.dbtx.QueryRow(ctx, `
		SELECT count(*) FROM events WHERE kind = $1 AND created_at >= $2
	`, string(kind), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting events by kind: %w", err)
	}
	return count, nil
}
