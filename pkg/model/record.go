package model

import "time"

// RecordStatus is the per-device execution state within one job.
type RecordStatus string

const (
	RecordPending        RecordStatus = "pending"
	RecordApplying       RecordStatus = "applying"
	RecordApplied        RecordStatus = "applied"
	RecordFailed         RecordStatus = "failed"
	RecordRollingBack    RecordStatus = "rolling_back"
	RecordRolledBack     RecordStatus = "rolled_back"
	RecordRollbackFailed RecordStatus = "rollback_failed"
)

// DeviceExecutionRecord tracks one (job, device) pair. Transitions are
// monotonic; the only branch out of a settled state is applied -> rolling_back.
type DeviceExecutionRecord struct {
	JobID     string       `json:"jobId"`
	DeviceID  string       `json:"deviceId"`
	Batch     int          `json:"batch"`
	Status    RecordStatus `json:"status"`
	Channel   Channel      `json:"channel,omitempty"` // channel that served the last operation
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

var recordTransitions = map[RecordStatus][]RecordStatus{
	RecordPending:     {RecordApplying},
	RecordApplying:    {RecordApplied, RecordFailed},
	RecordApplied:     {RecordRollingBack},
	RecordRollingBack: {RecordRolledBack, RecordRollbackFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s RecordStatus) CanTransition(next RecordStatus) bool {
	for _, t := range recordTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Settled reports whether the record reached a per-batch terminal status.
func (s RecordStatus) Settled() bool {
	switch s {
	case RecordApplied, RecordFailed, RecordRolledBack, RecordRollbackFailed:
		return true
	}
	return false
}
