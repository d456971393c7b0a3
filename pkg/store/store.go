package store

import "router-fleet/pkg/model"

// Store is the persistence layer for plans, jobs, execution records,
// snapshots and audit events. Jobs have a single writer (the orchestrator);
// reads return copies and never block writers.
type Store interface {
	SavePlan(model.Plan) error
	GetPlan(id string) (model.Plan, bool, error)
	ListPlans(limit int) ([]model.Plan, error)
	SetPlanApproval(id, approval string) error

	CreateJob(model.Job) error
	GetJob(id string) (model.Job, bool, error)
	ListJobs(limit int) ([]model.Job, error)
	UpdateJobStatus(id string, next model.JobStatus, reason string) error
	SetJobProgress(id string, percent, currentBatch int) error

	RequestCancellation(id string) error
	CancellationRequested(id string) (bool, error)

	UpsertRecord(model.DeviceExecutionRecord) error
	ListRecords(jobID string) ([]model.DeviceExecutionRecord, error)

	SaveSnapshot(model.Snapshot) error // first write per (job, device) wins
	GetSnapshot(jobID, deviceID string) (model.Snapshot, bool, error)

	AppendAudit(model.AuditEvent) error
	ListAudit(limit int) ([]model.AuditEvent, error)

	Ping() error
}

// NewMemory constructs the in-memory implementation without importing it directly.
func NewMemory() Store {
	return NewMemoryStore()
}
