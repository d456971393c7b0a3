package transport

import (
	"context"

	"router-fleet/pkg/model"
)

// OpKind tags an operation as read-only or mutating. Mutations are never
// served by the fallback channel.
type OpKind string

const (
	OpRead   OpKind = "read"
	OpMutate OpKind = "mutate"
)

// Operation names supported by both channels' canonical surface.
const (
	OpGetState    = "get_state"
	OpApplyConfig = "apply_config"
)

// Operation is one logical call against a device.
type Operation struct {
	Name string
	Kind OpKind
	Ops  []model.Op        // payload for apply_config
	Args map[string]string // parameters for templated fallback reads
}

// Result is the canonical outcome of an operation, with channel provenance.
type Result struct {
	State   *model.DeviceState `json:"state,omitempty"`
	Channel model.Channel      `json:"channel"`
}

// Channel sends operations to a single device. Implementations classify every
// failure into a *Error before returning it.
type Channel interface {
	Name() string
	Execute(ctx context.Context, device model.Device, op Operation) (Result, error)
}
