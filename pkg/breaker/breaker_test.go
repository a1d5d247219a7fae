package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beargallbladder/domainrunner/pkg/provider"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	b := New("q", 5, 20*time.Millisecond, time.Second, func(_ string, to State) {
		transitions = append(transitions, to)
	})

	failing := func() (provider.Result, error) {
		return provider.Result{Success: false, ErrorKind: provider.ErrTransient}, nil
	}

	for i := 0; i < 5; i++ {
		_, _ = b.Execute(context.Background(), failing)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.Contains(t, transitions, StateOpen)

	// While open and within cooldown, no further calls should reach fn.
	called := false
	_, err := b.Execute(context.Background(), func() (provider.Result, error) {
		called = true
		return provider.Result{Success: true}, nil
	})
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "breaker should fail fast without invoking fn while open")
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	b := New("r", 2, 10*time.Millisecond, time.Second, nil)

	failing := func() (provider.Result, error) {
		return provider.Result{Success: false, ErrorKind: provider.ErrTransient}, nil
	}
	succeeding := func() (provider.Result, error) {
		return provider.Result{Success: true}, nil
	}

	_, _ = b.Execute(context.Background(), failing)
	_, _ = b.Execute(context.Background(), failing)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)

	res, err := b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_AuthFailureDoesNotCountAsCircuitFailure(t *testing.T) {
	b := New("s", 2, 10*time.Millisecond, time.Second, nil)

	authFail := func() (provider.Result, error) {
		return provider.Result{Success: false, ErrorKind: provider.ErrAuth}, nil
	}

	for i := 0; i < 10; i++ {
		_, _ = b.Execute(context.Background(), authFail)
	}

	assert.Equal(t, StateClosed, b.State(), "auth failures must not trip the breaker")
}

func TestBreaker_NonRetryableStaysClosedWithinHourlyCap(t *testing.T) {
	b := New("t", 2, 10*time.Millisecond, time.Second, nil)

	nonRetryable := func() (provider.Result, error) {
		return provider.Result{Success: false, ErrorKind: provider.ErrNonRetryable}, nil
	}

	for i := 0; i < nonRetryableHourlyCap; i++ {
		_, _ = b.Execute(context.Background(), nonRetryable)
	}

	assert.Equal(t, StateClosed, b.State(), "non_retryable failures within the hourly cap must not trip the breaker")
}

func TestBreaker_NonRetryableTripsPastHourlyCap(t *testing.T) {
	b := New("u", 2, 10*time.Millisecond, time.Second, nil)

	nonRetryable := func() (provider.Result, error) {
		return provider.Result{Success: false, ErrorKind: provider.ErrNonRetryable}, nil
	}

	for i := 0; i < nonRetryableHourlyCap+2; i++ {
		_, _ = b.Execute(context.Background(), nonRetryable)
	}

	assert.Equal(t, StateOpen, b.State(), "non_retryable failures past the hourly cap must count toward the breaker")
}
