package api

import (
	"time"

	"router-fleet/pkg/model"
)

// CreatePlanRequest is the caller-facing plan description.
type CreatePlanRequest struct {
	Devices           []string            `json:"deviceIds"`
	Change            model.DesiredChange `json:"change"`
	BatchSize         int                 `json:"batchSize"`
	PauseBetweenSec   int                 `json:"pauseBetweenSeconds,omitempty"`
	RollbackOnFailure bool                `json:"rollbackOnFailure"`
	TolerateDegraded  bool                `json:"tolerateDegraded,omitempty"`
}

// ApplyPlanRequest carries the approval for one plan.
type ApplyPlanRequest struct {
	PlanID        string `json:"planId"`
	ApprovalToken string `json:"approvalToken"`
}

// CancelJobRequest targets one running job.
type CancelJobRequest struct {
	JobID string `json:"jobId"`
}

// RollbackJobRequest triggers a manual rollback.
type RollbackJobRequest struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

// DeviceStateResponse is a read-through device state with channel provenance.
type DeviceStateResponse struct {
	State   model.DeviceState `json:"state"`
	Channel model.Channel     `json:"channel"`
}

// InfoResponse is served on /healthz.
type InfoResponse struct {
	Version string    `json:"version"`
	Store   string    `json:"store"`
	Time    time.Time `json:"time"`
}
