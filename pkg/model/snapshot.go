package model

import "time"

// Snapshot is the captured pre-change state of one device within one job.
// Written once, before the device's first mutation; never overwritten.
type Snapshot struct {
	JobID      string      `json:"jobId"`
	DeviceID   string      `json:"deviceId"`
	State      DeviceState `json:"state"`
	CapturedAt time.Time   `json:"capturedAt"`
}
