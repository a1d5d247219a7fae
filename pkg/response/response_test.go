package response

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKey_StableWithinSameMinute(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	laterSameMinute := base.Add(40 * time.Second)

	k1 := IdempotencyKey("d1", "openai", "brand_memory_v1", base)
	k2 := IdempotencyKey("d1", "openai", "brand_memory_v1", laterSameMinute)

	assert.Equal(t, k1, k2, "keys within the same minute bucket must match")
}

func TestIdempotencyKey_DiffersAcrossMinuteBoundary(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 59, 0, time.UTC)
	nextMinute := base.Add(2 * time.Second)

	k1 := IdempotencyKey("d1", "openai", "brand_memory_v1", base)
	k2 := IdempotencyKey("d1", "openai", "brand_memory_v1", nextMinute)

	assert.NotEqual(t, k1, k2)
}

func TestIdempotencyKey_DiffersByDimension(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := IdempotencyKey("d1", "openai", "brand_memory_v1", at)

	assert.NotEqual(t, base, IdempotencyKey("d2", "openai", "brand_memory_v1", at))
	assert.NotEqual(t, base, IdempotencyKey("d1", "anthropic", "brand_memory_v1", at))
	assert.NotEqual(t, base, IdempotencyKey("d1", "openai", "brand_memory_v2", at))
}
