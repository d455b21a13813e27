package models

import "time"

// Outcome is the result of ingesting one reading.
type Outcome string

const (
	OutcomeAccepted          Outcome = "accepted"
	OutcomeDegraded          Outcome = "degraded"
	OutcomeRejected          Outcome = "rejected"
	OutcomeDurabilityFailure Outcome = "durability_failure"
)

// IngestEvent is emitted after a reading has been recorded in history.
type IngestEvent struct {
	Reading        Reading   `json:"reading"`
	Outcome        Outcome   `json:"outcome"`
	CurrentUpdated bool      `json:"current_updated"`
	Replayed       bool      `json:"replayed,omitempty"`
	At             time.Time `json:"at"`
}
