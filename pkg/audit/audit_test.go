package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"router-fleet/pkg/model"
	"router-fleet/pkg/store"
)

type captureSink struct {
	events []model.AuditEvent
}

func (c *captureSink) Record(e model.AuditEvent) {
	c.events = append(c.events, e)
}

func TestStoreSinkAppendsAndStampsTimestamp(t *testing.T) {
	st := store.NewMemoryStore()
	sink := NewStoreSink(st)

	sink.Record(DeviceOp("j1", "d1", "apply_config", model.ChannelPrimary, "ok", ""))

	events, err := st.ListAudit(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "d1", events[0].Target)
	require.False(t, events[0].Timestamp.IsZero())
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	st := store.NewMemoryStore()
	second := &captureSink{}
	sink := Fanout{NewStoreSink(st), second}

	sink.Record(JobTransition("j1", model.JobApplying, model.JobCompleted, "all batches applied"))

	events, err := st.ListAudit(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, second.events, 1)
	require.Equal(t, "j1", second.events[0].Target)
	require.Equal(t, events[0].Timestamp, second.events[0].Timestamp)
}

func TestFanoutKeepsCallerTimestamp(t *testing.T) {
	second := &captureSink{}
	sink := Fanout{second}

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := DeviceOp("j1", "d1", "read_state", model.ChannelFallback, "ok", "")
	e.Timestamp = at
	sink.Record(e)

	require.Len(t, second.events, 1)
	require.Equal(t, at, second.events[0].Timestamp)
}
