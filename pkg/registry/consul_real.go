//go:build consul

package registry

import (
	"router-fleet/pkg/consul"
	"router-fleet/pkg/model"
)

// consulRegistry adapts the Consul KV store to the Registry interface.
type consulRegistry struct {
	store *consul.Store
}

// NewConsulRegistry creates a Consul-backed registry (requires build tag consul).
func NewConsulRegistry(addr string) Registry {
	return &consulRegistry{store: consul.NewStore(addr)}
}

func (r *consulRegistry) GetDevice(id string) (model.Device, error) {
	d, ok, err := r.store.GetDevice(id)
	if err != nil {
		return model.Device{}, err
	}
	if !ok {
		return model.Device{}, ErrNotFound
	}
	return d, nil
}

func (r *consulRegistry) ListDevices() ([]model.Device, error) {
	return r.store.ListDevices()
}

func (r *consulRegistry) UpsertDevice(d model.Device) error {
	return r.store.UpsertDevice(d)
}
