package health

import (
	"sync"

	"router-fleet/pkg/model"
)

// Collector supplies the latest externally gathered health signal per device.
// Polling cadence lives outside the control plane; this only stores and serves.
type Collector interface {
	Latest(deviceID string) (model.HealthSignal, bool)
}

// MemoryCollector keeps the latest signal per device, fed by report ingestion.
type MemoryCollector struct {
	mu      sync.RWMutex
	signals map[string]model.HealthSignal
}

func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{signals: map[string]model.HealthSignal{}}
}

// Record stores a signal, keeping only the newest per device.
func (c *MemoryCollector) Record(sig model.HealthSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.signals[sig.DeviceID]; ok && cur.Timestamp.After(sig.Timestamp) {
		return
	}
	c.signals[sig.DeviceID] = sig
}

func (c *MemoryCollector) Latest(deviceID string) (model.HealthSignal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sig, ok := c.signals[deviceID]
	return sig, ok
}
