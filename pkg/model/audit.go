package model

import "time"

// AuditEvent captures one device operation or job state transition.
type AuditEvent struct {
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Channel   Channel   `json:"channel,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
