package model

import "time"

// Progress event types.
const (
	EventJobStatus    = "job_status"
	EventDeviceStatus = "device_status"
	EventBatchStarted = "batch_started"
	EventBatchSettled = "batch_settled"
)

// ProgressEvent is one update pushed to rollout listeners.
type ProgressEvent struct {
	JobID     string    `json:"jobId"`
	Type      string    `json:"type"`
	DeviceID  string    `json:"deviceId,omitempty"`
	Batch     int       `json:"batch,omitempty"`
	Status    string    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
