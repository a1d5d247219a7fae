package prompt

import (
	"context"
	"fmt"

	"github.com/beargallbladder/domainrunner/internal/db"
)

// Store mirrors Active into the prompt_templates table (§6 persisted state
// layout). The wording still lives in code — Active is what Render actually
// uses — but the persisted copy lets auditing and downstream consumers read
// the catalog straight from the database like every other piece of state.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a prompt Store backed by dbtx.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// EnsureSeeded inserts any template in Active not yet present in
// prompt_templates. Existing rows are left untouched: templates are
// immutable once inserted, and a wording change creates a new id rather
// than mutating one (§3).
func (s *Store) EnsureSeeded(ctx context.Context) error {
	for _, t := range Active {
		if _, err := s.dbtx.Exec(ctx, `
			INSERT INTO prompt_templates (id, body, category)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, t.ID, t.Body, t.Category); err != nil {
			return fmt.Errorf("seeding prompt template %q: %w", t.ID, err)
		}
	}
	return nil
}

// List returns the persisted template catalog, oldest first.
func (s *Store) List(ctx context.Context) ([]Template, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT id, body, category FROM prompt_templates ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing prompt templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Body, &t.Category); err != nil {
			return nil, fmt.Errorf("scanning prompt template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
