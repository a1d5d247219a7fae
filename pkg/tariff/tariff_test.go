package tariff

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCalculate_KnownModel(t *testing.T) {
	cost := Calculate("openai", "gpt-4o-mini", 1_000_000, 1_000_000)
	assert.True(t, cost.Equal(decimal.NewFromFloat(0.75)), "got %s", cost)
}

func TestCalculate_UnknownModelUsesDefaultRate(t *testing.T) {
	cost := Calculate("openai", "some-future-model", 1_000_000, 0)
	assert.True(t, cost.Equal(decimal.NewFromFloat(0.50)), "got %s", cost)
}

func TestHealthTracker_ClampsWithinBounds(t *testing.T) {
	h := NewHealthTracker()
	assert.Equal(t, 100, h.Score("openai"))

	for i := 0; i < 60; i++ {
		h.RecordFailure("openai")
	}
	assert.Equal(t, 0, h.Score("openai"))

	for i := 0; i < 60; i++ {
		h.RecordSuccess("openai")
	}
	assert.Equal(t, 100, h.Score("openai"))
}
