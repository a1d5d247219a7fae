package response

import (
	"context"
	"fmt"

	"github.com/beargallbladder/domainrunner/internal/db"
)

// Store persists responses. Every write is an INSERT; no UPDATE or DELETE
// is ever issued against this table (§8 Append-only responses).
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a response Store backed by dbtx (a pool or, inside a
// caller-managed transaction, a pgx.Tx).
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Persist appends r, keyed by its idempotency hash. A duplicate within the
// same minute bucket is silently ignored rather than erroring, matching the
// idempotency law in §8: replaying a run does not create duplicate rows.
// Reports whether a new row was actually inserted.
func (s *Store) Persist(ctx context.Context, r Response, idempotencyKey string) (inserted bool, err error) {
	tag, err := s.dbtx.Exec(ctx, `
		INSERT INTO responses (
			id, domain_id, provider, model, prompt_template_id, prompt_text,
			response_text, prompt_tokens, completion_tokens, total_cost_usd,
			latency_ms, captured_at, idempotency_key
		) VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (idempotency_key) DO NOTHING
	`,
		r.DomainID, r.Provider, r.Model, r.PromptTemplateID, r.PromptText,
		r.ResponseText, r.PromptTokens, r.CompletionTokens, r.TotalCostUSD,
		r.LatencyMS, r.CapturedAt, idempotencyKey,
	)
	if err != nil {
		return false, fmt.Errorf("persisting response: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
