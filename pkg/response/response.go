// Package response implements the append-only Response persistence layer,
// including the idempotency-key derivation that backs its
// (domain, provider, template, minute-bucket) uniqueness invariant.
package response

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Response is one LLM reply, persisted verbatim and never mutated.
type Response struct {
	ID               string
	DomainID         string
	Provider         string
	Model            string
	PromptTemplateID string
	PromptText       string
	ResponseText     string
	PromptTokens     int
	CompletionTokens int
	TotalCostUSD     decimal.Decimal
	LatencyMS        int64
	CapturedAt       time.Time
}

// IdempotencyKey derives the stable hash the persistence layer uses as an
// ON CONFLICT DO NOTHING target. captured_at is truncated to the minute per
// the append-only invariant of §3: a successfully persisted
// (domain, provider, template) tuple is not re-issued within the same
// minute bucket of the same crawl cycle.
func IdempotencyKey(domainID, providerID, templateID string, capturedAt time.Time) string {
	bucket := capturedAt.UTC().Truncate(time.Minute).Unix()
	raw := fmt.Sprintf("%s|%s|%s|%d", domainID, providerID, templateID, bucket)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
