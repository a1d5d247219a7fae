// Package domain implements the domains table's row type and the Work
// Claimer: atomic, skip-locked claiming of pending domains with lease
// tracking and reclaim.
package domain

import "time"

// Status is the domain lifecycle state. Transitions are restricted to
// pending -> processing -> (completed | completed_partial | error) -> pending.
// A domain that cycles back to pending three times running without ever
// completing is parked at error instead, by UpdateStatus's pending-cycle
// count (§7: "parked as error with the last error-kind payload").
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusCompleted        Status = "completed"
	StatusCompletedPartial Status = "completed_partial"
	StatusError            Status = "error"
)

// Domain is one row of the domains table.
type Domain struct {
	ID              string
	Hostname        string
	Status          Status
	Source          string
	ProcessCount    int
	ErrorCount      int
	PendingCycles   int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastProcessedAt *time.Time
	LeaseOwner      *string
	LeaseExpiresAt  *time.Time
}

// Claimed is the minimal projection the Work Claimer hands to the
// Orchestrator: enough to address the row without a second round-trip.
type Claimed struct {
	ID       string
	Hostname string
}
