package model

import "time"

// Approval states of a Plan.
const (
	ApprovalUnapproved = "unapproved"
	ApprovalApproved   = "approved"
	ApprovalExpired    = "expired"
)

// Plan is an immutable description of a change and its target devices.
// Never mutate an approved plan; recovery always goes through a new one.
type Plan struct {
	ID               string        `json:"id"`
	DeviceIDs        []string      `json:"deviceIds"`
	Change           DesiredChange `json:"change"`
	BatchSize        int           `json:"batchSize"`
	PauseBetween     time.Duration `json:"pauseBetween"`
	RollbackOnFail   bool          `json:"rollbackOnFailure"`
	TolerateDegraded bool          `json:"tolerateDegraded,omitempty"`
	Approval         string        `json:"approval"`
	CreatedAt        time.Time     `json:"createdAt"`
	ExpiresAt        time.Time     `json:"expiresAt"`
}

// Batch is one ordered slice of a plan's devices, executed as a unit.
type Batch struct {
	Index     int      `json:"index"`
	DeviceIDs []string `json:"deviceIds"`
}

// Batches partitions DeviceIDs in order into chunks of BatchSize.
// The union of all batches equals DeviceIDs exactly once.
func (p Plan) Batches() []Batch {
	size := p.BatchSize
	if size < 1 {
		size = 1
	}
	var out []Batch
	for start := 0; start < len(p.DeviceIDs); start += size {
		end := start + size
		if end > len(p.DeviceIDs) {
			end = len(p.DeviceIDs)
		}
		out = append(out, Batch{Index: len(out), DeviceIDs: p.DeviceIDs[start:end]})
	}
	return out
}

// Expired reports whether the plan's approval window has passed.
func (p Plan) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
