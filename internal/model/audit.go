package model

import (
	"time"

	"github.com/google/uuid"
)

// AccessAuditEvent records one denied access check. attempt_id is kept as a
// plain UUID (no foreign key) so probes against unknown attempts are still
// recorded.
type AccessAuditEvent struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	StudentID  int       `json:"student_id"`
	ModuleType string    `json:"module_type"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
