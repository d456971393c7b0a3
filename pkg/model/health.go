package model

import "time"

// HealthSignal captures the latest externally collected health metrics for a device.
type HealthSignal struct {
	DeviceID      string    `json:"deviceId"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	Reachable     bool      `json:"reachable"`
	Timestamp     time.Time `json:"timestamp"`
}

// HealthState is the gate's classification of a signal.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthCritical HealthState = "critical"
)
