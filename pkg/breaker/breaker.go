// Package breaker implements the per-provider three-state Circuit Breaker
// (§4.3) on top of sony/gobreaker, layering cooldown-doubling-up-to-a-cap on
// its static Timeout.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/beargallbladder/domainrunner/pkg/provider"
)

// State mirrors the closed/half-open/open machine independently of
// gobreaker's own type, so callers never need to import gobreaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// ErrOpen is returned by Execute when the breaker is short-circuiting calls.
var ErrOpen = errors.New("circuit breaker open")

const maxOpenStreakShift = 8 // caps the cooldown doubling at base * 256 before cooldownCap applies

// nonRetryableHourlyCap is the §7 "cap per provider per hour" on
// non_retryable failures before they start counting toward the breaker.
// A handful of malformed-request/404-class errors is routine; a sustained
// run of them past the cap is treated as a real outage signal.
const nonRetryableHourlyCap = 10

// Breaker wraps one gobreaker.CircuitBreaker per provider. gobreaker itself
// only knows a single fixed Timeout; the doubling-up-to-a-cap cooldown
// required by §4.3 is enforced by Breaker on top of it, via nextRetryAt.
type Breaker struct {
	mu           sync.Mutex
	providerID   string
	cb           *gobreaker.CircuitBreaker
	baseCooldown time.Duration
	cooldownCap  time.Duration
	openStreak   int
	nextRetryAt  time.Time
	onTrip       func(providerID string, to State)

	nonRetryableWindowStart time.Time
	nonRetryableCount       int
}

// New creates a Breaker for one provider. onTrip, when non-nil, is invoked
// on every state transition so the caller can log circuit_open/circuit_close
// events and update the health telemetry gauge.
func New(providerID string, failureThreshold uint32, baseCooldown, cooldownCap time.Duration, onTrip func(providerID string, to State)) *Breaker {
	b := &Breaker{
		providerID:   providerID,
		baseCooldown: baseCooldown,
		cooldownCap:  cooldownCap,
		onTrip:       onTrip,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        providerID,
		MaxRequests: 1,
		Timeout:     baseCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			b.handleStateChange(to)
		},
	})

	return b
}

func (b *Breaker) handleStateChange(to gobreaker.State) {
	b.mu.Lock()
	var mapped State
	switch to {
	case gobreaker.StateOpen:
		mapped = StateOpen
		shift := b.openStreak
		if shift > maxOpenStreakShift {
			shift = maxOpenStreakShift
		}
		cooldown := b.baseCooldown << shift
		if cooldown <= 0 || cooldown > b.cooldownCap {
			cooldown = b.cooldownCap
		}
		b.nextRetryAt = time.Now().Add(cooldown)
		b.openStreak++
	case gobreaker.StateHalfOpen:
		mapped = StateHalfOpen
	default:
		mapped = StateClosed
		b.openStreak = 0
	}
	onTrip := b.onTrip
	b.mu.Unlock()

	if onTrip != nil {
		onTrip(b.providerID, mapped)
	}
}

// countNonRetryable applies the §7 cap: a non_retryable failure only starts
// counting toward the breaker once more than nonRetryableHourlyCap of them
// have occurred for this provider within the current one-hour window, which
// opens at the first such failure after the previous window has run an hour.
func (b *Breaker) countNonRetryable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.nonRetryableWindowStart) > time.Hour {
		b.nonRetryableWindowStart = now
		b.nonRetryableCount = 0
	}
	b.nonRetryableCount++
	return b.nonRetryableCount > nonRetryableHourlyCap
}

// State reports the current breaker state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Execute runs fn if the breaker allows it. It short-circuits with ErrOpen
// during the (possibly doubled) cooldown window, even once gobreaker's own
// static Timeout has separately elapsed, and feeds the outcome back into the
// underlying state machine.
func (b *Breaker) Execute(ctx context.Context, fn func() (provider.Result, error)) (provider.Result, error) {
	// cb.State() may fire handleStateChange, which takes b.mu, so read it
	// before locking.
	state := b.cb.State()
	b.mu.Lock()
	blocked := state != gobreaker.StateClosed && time.Now().Before(b.nextRetryAt)
	b.mu.Unlock()

	if blocked {
		return provider.Result{Success: false, ErrorKind: provider.ErrProviderUnavailable}, ErrOpen
	}

	raw, err := b.cb.Execute(func() (interface{}, error) {
		r, callErr := fn()
		if callErr != nil {
			return r, callErr
		}
		if !r.Success {
			counts := r.ErrorKind.CountsAsCircuitFailure()
			if !counts && r.ErrorKind == provider.ErrNonRetryable {
				counts = b.countNonRetryable()
			}
			if counts {
				return r, fmt.Errorf("provider call failed: %s", r.ErrorDetail)
			}
		}
		return r, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return provider.Result{Success: false, ErrorKind: provider.ErrProviderUnavailable}, ErrOpen
	}

	res, _ := raw.(provider.Result)
	return res, nil
}
