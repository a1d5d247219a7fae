// Package tariff computes per-call USD cost from a static tariff table and
// maintains each provider's rolling health score.
package tariff

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Rate holds per-million-token USD pricing for one (provider, model) pair.
// Using decimal rather than float64 keeps cumulative cost sums exact.
type Rate struct {
	PromptPerMillion     decimal.Decimal
	CompletionPerMillion decimal.Decimal
}

// table is the single authoritative tariff table (§9 Open Questions: the
// source's constants were inconsistent across call sites; these values are
// this implementation's chosen authority and may be retuned without code
// changes elsewhere, since every cost calculation flows through Calculate).
var table = map[string]Rate{
	"openai:gpt-4o-mini":                               {decimal.NewFromFloat(0.15), decimal.NewFromFloat(0.60)},
	"anthropic:claude-3-5-haiku-latest":                 {decimal.NewFromFloat(0.80), decimal.NewFromFloat(4.00)},
	"google:gemini-1.5-flash":                           {decimal.NewFromFloat(0.075), decimal.NewFromFloat(0.30)},
	"ai21:jamba-mini":                                   {decimal.NewFromFloat(0.20), decimal.NewFromFloat(0.40)},
	"cohere:command-r":                                  {decimal.NewFromFloat(0.15), decimal.NewFromFloat(0.60)},
	"perplexity:sonar":                                  {decimal.NewFromFloat(0.20), decimal.NewFromFloat(0.20)},
	"groq:llama-3.1-8b-instant":                         {decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.08)},
	"together:meta-llama/Llama-3.2-3B-Instruct-Turbo":   {decimal.NewFromFloat(0.06), decimal.NewFromFloat(0.06)},
	"xai:grok-2-mini":                                   {decimal.NewFromFloat(0.30), decimal.NewFromFloat(0.50)},
	"mistral:mistral-small-latest":                      {decimal.NewFromFloat(0.20), decimal.NewFromFloat(0.60)},
	"deepseek:deepseek-chat":                            {decimal.NewFromFloat(0.14), decimal.NewFromFloat(0.28)},
}

// defaultRate is used for a (provider, model) combination absent from the
// table, e.g. a non-default model override, so cost telemetry degrades to a
// conservative estimate rather than panicking.
var defaultRate = Rate{decimal.NewFromFloat(0.50), decimal.NewFromFloat(1.50)}

const million = 1_000_000

// Calculate returns the USD cost of one call given token counts.
func Calculate(providerID, model string, promptTokens, completionTokens int) decimal.Decimal {
	rate, ok := table[providerID+":"+model]
	if !ok {
		rate = defaultRate
	}

	promptCost := rate.PromptPerMillion.Mul(decimal.NewFromInt(int64(promptTokens))).Div(decimal.NewFromInt(million))
	completionCost := rate.CompletionPerMillion.Mul(decimal.NewFromInt(int64(completionTokens))).Div(decimal.NewFromInt(million))
	return promptCost.Add(completionCost).Round(6)
}

const (
	successDelta = 2
	failureDelta = -10
	minScore     = 0
	maxScore     = 100
	initialScore = 100
)

// HealthTracker maintains a clamped rolling health score per provider.
type HealthTracker struct {
	mu     sync.Mutex
	scores map[string]int
}

// NewHealthTracker creates a tracker with every provider starting at 100.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{scores: make(map[string]int)}
}

// RecordSuccess increments a provider's score, clamped at maxScore.
func (h *HealthTracker) RecordSuccess(providerID string) int {
	return h.adjust(providerID, successDelta)
}

// RecordFailure decrements a provider's score, clamped at minScore.
func (h *HealthTracker) RecordFailure(providerID string) int {
	return h.adjust(providerID, failureDelta)
}

// Score returns a provider's current score, defaulting new providers to 100.
func (h *HealthTracker) Score(providerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scoreLocked(providerID)
}

func (h *HealthTracker) adjust(providerID string, delta int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	score := h.scoreLocked(providerID) + delta
	if score > maxScore {
		score = maxScore
	}
	if score < minScore {
		score = minScore
	}
	h.scores[providerID] = score
	return score
}

func (h *HealthTracker) scoreLocked(providerID string) int {
	score, ok := h.scores[providerID]
	if !ok {
		return initialScore
	}
	return score
}
