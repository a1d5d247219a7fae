package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_EnforcesMinimumSpacing(t *testing.T) {
	l := NewLimiter()
	l.Configure("p", []string{"k1"}, 50*time.Millisecond)

	ctx := context.Background()
	start := time.Now()

	for i := 0; i < 3; i++ {
		key, release, err := l.Acquire(ctx, "p")
		require.NoError(t, err)
		assert.Equal(t, "k1", key)
		release(OutcomeSuccess)
	}

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "three acquisitions of one key with 50ms spacing should take at least 100ms")
}

func TestLimiter_KeyRotationFairness(t *testing.T) {
	l := NewLimiter()
	keys := []string{"k1", "k2", "k3"}
	l.Configure("p", keys, time.Microsecond)

	ctx := context.Background()
	const totalRequests = 300

	counts := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, release, err := l.Acquire(ctx, "p")
			require.NoError(t, err)
			release(OutcomeSuccess)
			mu.Lock()
			counts[key]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	expected := totalRequests / len(keys)
	for _, k := range keys {
		got := counts[k]
		assert.InDelta(t, expected, got, float64(expected)*0.1, "key %s used %d times, expected close to %d", k, got, expected)
	}
}

func TestLimiter_AuthFailureRotatesKeyImmediately(t *testing.T) {
	l := NewLimiter()
	l.Configure("p", []string{"k1", "k2"}, time.Microsecond)

	ctx := context.Background()
	key1, release1, err := l.Acquire(ctx, "p")
	require.NoError(t, err)
	release1(OutcomeAuthFailure)

	key2, release2, err := l.Acquire(ctx, "p")
	require.NoError(t, err)
	release2(OutcomeSuccess)

	assert.NotEqual(t, key1, key2)
}

func TestLimiter_UnconfiguredProvider(t *testing.T) {
	l := NewLimiter()
	_, _, err := l.Acquire(context.Background(), "missing")
	assert.Error(t, err)
}
