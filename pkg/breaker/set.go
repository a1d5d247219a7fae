package breaker

import (
	"sync"
	"time"
)

// Set owns one Breaker per provider, created lazily on first use and shared
// across every domain so consecutive-failure counts accumulate correctly
// across the whole fleet rather than resetting per domain.
type Set struct {
	mu               sync.Mutex
	breakers         map[string]*Breaker
	failureThreshold uint32
	baseCooldown     time.Duration
	cooldownCap      time.Duration
	onTrip           func(providerID string, to State)
}

// NewSet creates an empty Set. Every Breaker it lazily creates shares the
// same threshold/cooldown configuration and onTrip callback.
func NewSet(failureThreshold uint32, baseCooldown, cooldownCap time.Duration, onTrip func(providerID string, to State)) *Set {
	return &Set{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		baseCooldown:     baseCooldown,
		cooldownCap:      cooldownCap,
		onTrip:           onTrip,
	}
}

// Get returns the Breaker for providerID, creating it on first access.
func (s *Set) Get(providerID string) (*Breaker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[providerID]
	if !ok {
		b = New(providerID, s.failureThreshold, s.baseCooldown, s.cooldownCap, s.onTrip)
		s.breakers[providerID] = b
	}
	return b, true
}

// States snapshots every known provider's current state, for the status
// endpoint and the CircuitState telemetry gauge.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.breakers))
	for id, b := range s.breakers {
		out[id] = b.State()
	}
	return out
}
