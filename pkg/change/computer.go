package change

import (
	"context"
	"fmt"

	"router-fleet/pkg/model"
	"router-fleet/pkg/transport"
)

// Computer performs read-modify-write change computation. It never assumes a
// previous write landed: every Compute re-reads the device first.
type Computer struct {
	router *transport.Router
}

// NewComputer builds a Computer on top of the transport router.
func NewComputer(router *transport.Router) *Computer {
	return &Computer{router: router}
}

// Compute reads current state through the router and returns the minimal op
// set for desired, plus the read result (the rollout snapshots its state
// before mutating and records its channel provenance). Changed is false iff
// every targeted field already matches.
func (c *Computer) Compute(ctx context.Context, device model.Device, desired model.DesiredChange) (model.ChangeSet, transport.Result, error) {
	res, err := c.router.Execute(ctx, device, transport.Operation{Name: transport.OpGetState, Kind: transport.OpRead})
	if err != nil {
		return model.ChangeSet{}, transport.Result{}, fmt.Errorf("read state of %s: %w", device.ID, err)
	}
	cs, err := Diff(*res.State, desired)
	if err != nil {
		return model.ChangeSet{}, transport.Result{}, err
	}
	return cs, res, nil
}

// Diff compares current against desired and emits only the fields that differ.
func Diff(current model.DeviceState, desired model.DesiredChange) (model.ChangeSet, error) {
	var ops []model.Op
	switch desired.Type {
	case model.ChangeSetDNS:
		if !equalStrings(current.DNSServers, desired.DNSServers) {
			ops = append(ops, model.Op{Field: "dnsServers", Value: desired.DNSServers})
		}
	case model.ChangeSetNTP:
		if !equalStrings(current.NTPServers, desired.NTPServers) {
			ops = append(ops, model.Op{Field: "ntpServers", Value: desired.NTPServers})
		}
	case model.ChangeSetSyslog:
		if current.SyslogHost != desired.SyslogHost {
			ops = append(ops, model.Op{Field: "syslogHost", Value: desired.SyslogHost})
		}
	default:
		return model.ChangeSet{}, fmt.Errorf("unknown change type %q", desired.Type)
	}
	return model.ChangeSet{Changed: len(ops) > 0, Ops: ops}, nil
}

// RestoreOps builds the ops that put a device back to its snapshot state for
// the fields a change type touches.
func RestoreOps(changeType string, snap model.DeviceState) ([]model.Op, error) {
	switch changeType {
	case model.ChangeSetDNS:
		return []model.Op{{Field: "dnsServers", Value: snap.DNSServers}}, nil
	case model.ChangeSetNTP:
		return []model.Op{{Field: "ntpServers", Value: snap.NTPServers}}, nil
	case model.ChangeSetSyslog:
		return []model.Op{{Field: "syslogHost", Value: snap.SyslogHost}}, nil
	}
	return nil, fmt.Errorf("unknown change type %q", changeType)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
