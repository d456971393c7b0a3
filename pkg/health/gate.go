package health

import (
	"time"

	"router-fleet/pkg/model"
)

// Thresholds are deployment-specific policy inputs, supplied at startup.
type Thresholds struct {
	DegradedCPU    float64
	DegradedMemory float64
	CriticalCPU    float64
	CriticalMemory float64
	MaxSignalAge   time.Duration
}

// DefaultThresholds are conservative startup defaults, not fixed policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedCPU:    80,
		DegradedMemory: 85,
		CriticalCPU:    95,
		CriticalMemory: 95,
		MaxSignalAge:   2 * time.Minute,
	}
}

// Gate classifies health signals against thresholds. An absent or stale
// signal classifies as critical: the gate fails closed.
type Gate struct {
	collector  Collector
	thresholds Thresholds
}

// NewGate builds a gate over an external health collector.
func NewGate(collector Collector, t Thresholds) *Gate {
	return &Gate{collector: collector, thresholds: t}
}

// Classify grades one signal at the given instant.
func (g *Gate) Classify(sig model.HealthSignal, now time.Time) model.HealthState {
	if g.thresholds.MaxSignalAge > 0 && now.Sub(sig.Timestamp) > g.thresholds.MaxSignalAge {
		return model.HealthCritical
	}
	if !sig.Reachable || sig.CPUPercent >= g.thresholds.CriticalCPU || sig.MemoryPercent >= g.thresholds.CriticalMemory {
		return model.HealthCritical
	}
	if sig.CPUPercent >= g.thresholds.DegradedCPU || sig.MemoryPercent >= g.thresholds.DegradedMemory {
		return model.HealthDegraded
	}
	return model.HealthHealthy
}

// Evaluate fetches the device's latest signal and classifies it.
func (g *Gate) Evaluate(deviceID string) model.HealthState {
	sig, ok := g.collector.Latest(deviceID)
	if !ok {
		return model.HealthCritical
	}
	return g.Classify(sig, time.Now())
}
