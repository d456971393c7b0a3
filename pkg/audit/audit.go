package audit

import (
	"log"
	"time"

	"router-fleet/pkg/model"
	"router-fleet/pkg/store"
)

// Sink receives audit events: one per device operation, one per job transition.
type Sink interface {
	Record(model.AuditEvent)
}

// StoreSink appends events to the control-plane store. Append failures are
// logged, never propagated; audit must not change control flow.
type StoreSink struct {
	store store.Store
}

func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{store: st}
}

func (s *StoreSink) Record(e model.AuditEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if err := s.store.AppendAudit(e); err != nil {
		log.Printf("audit append failed action=%s target=%s: %v", e.Action, e.Target, err)
	}
}

// Fanout delivers every event to each sink. The timestamp is stamped once so
// all sinks see the same instant.
type Fanout []Sink

func (f Fanout) Record(e model.AuditEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	for _, s := range f {
		s.Record(e)
	}
}

// DeviceOp builds the event for one device operation.
func DeviceOp(jobID, deviceID, operation string, channel model.Channel, outcome, detail string) model.AuditEvent {
	return model.AuditEvent{
		Actor:   jobID,
		Action:  operation,
		Target:  deviceID,
		Channel: channel,
		Outcome: outcome,
		Detail:  detail,
	}
}

// JobTransition builds the event for one job status change.
func JobTransition(jobID string, from, to model.JobStatus, detail string) model.AuditEvent {
	return model.AuditEvent{
		Action:  "job_transition",
		Target:  jobID,
		Outcome: string(to),
		Detail:  string(from) + " -> " + string(to) + "; " + detail,
	}
}
