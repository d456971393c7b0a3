package registry

import (
	"errors"
	"sync"

	"router-fleet/pkg/model"
)

// ErrNotFound is returned for unknown device IDs.
var ErrNotFound = errors.New("device not found")

// Registry is the external device inventory. The control plane only reads a
// per-operation view; ownership of the records stays here.
type Registry interface {
	GetDevice(id string) (model.Device, error)
	ListDevices() ([]model.Device, error)
	UpsertDevice(model.Device) error
}

// MemoryRegistry is the in-process registry used for dev and tests.
type MemoryRegistry struct {
	mu      sync.RWMutex
	devices map[string]model.Device
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{devices: map[string]model.Device{}}
}

func (r *MemoryRegistry) GetDevice(id string) (model.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return model.Device{}, ErrNotFound
	}
	return d, nil
}

func (r *MemoryRegistry) ListDevices() ([]model.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out, nil
}

func (r *MemoryRegistry) UpsertDevice(d model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = d
	return nil
}
