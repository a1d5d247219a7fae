// Package eventlog implements the append-only audit trail: every claim,
// release, call outcome, circuit transition, scheduler tick, and guardian
// block is recorded here with a free-form payload.
package eventlog

import "time"

// Kind is one of the closed set of event kinds the audit trail records.
type Kind string

const (
	KindClaim         Kind = "claim"
	KindRelease       Kind = "release"
	KindCallSuccess   Kind = "call_success"
	KindCallFailure   Kind = "call_failure"
	KindCircuitOpen   Kind = "circuit_open"
	KindCircuitClose  Kind = "circuit_close"
	KindSchedulerTick Kind = "scheduler_tick"
	KindGuardianBlock Kind = "guardian_block"
)

// Event is one append-only audit record (§3 Event Log Entry). DomainID is
// nil for events with no single associated domain (scheduler_tick,
// guardian_block, circuit transitions scoped to a provider rather than a
// domain). Payload is free-form and serialized as jsonb.
type Event struct {
	ID        int64
	DomainID  *string
	Kind      Kind
	Payload   map[string]any
	CreatedAt time.Time
}

// ForDomain builds an Event scoped to a single domain.
func ForDomain(domainID string, kind Kind, payload map[string]any) Event {
	return Event{DomainID: &domainID, Kind: kind, Payload: payload}
}

// Global builds an Event with no associated domain.
func Global(kind Kind, payload map[string]any) Event {
	return Event{Kind: kind, Payload: payload}
}
