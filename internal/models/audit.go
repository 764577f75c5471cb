package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditOutcome string

const (
	OutcomeApplied  AuditOutcome = "applied"
	OutcomeNoop     AuditOutcome = "noop"
	OutcomeSkipped  AuditOutcome = "skipped"
	OutcomeFailed   AuditOutcome = "failed"
	OutcomeRejected AuditOutcome = "rejected"
)

// AuditRecord is one consumed SyncEvent and what applying it did.
type AuditRecord struct {
	ID            uuid.UUID       `json:"id"`
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	Domain        Domain          `json:"domain"`
	CorrelationID string          `json:"correlation_id"`
	Outcome       AuditOutcome    `json:"outcome"`
	Detail        string          `json:"detail,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CreatedAt     time.Time       `json:"created_at"`
}
