package domain

import "time"

type AuditEntity string

const (
	AuditEntityLoan   AuditEntity = "loan"
	AuditEntityCopy   AuditEntity = "copy"
	AuditEntityPatron AuditEntity = "patron"
)

// AuditEvent records one committed state transition.
type AuditEvent struct {
	ID         string            `json:"id"`
	EntityType AuditEntity       `json:"entity_type"`
	EntityID   int32             `json:"entity_id"`
	Action     string            `json:"action"`
	FromState  string            `json:"from_state"`
	ToState    string            `json:"to_state"`
	Actor      Actor             `json:"actor"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
