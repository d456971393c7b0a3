package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatchesPartition(t *testing.T) {
	p := Plan{DeviceIDs: []string{"r1", "r2", "r3", "r4", "r5"}, BatchSize: 2}
	batches := p.Batches()
	require.Len(t, batches, 3)
	require.Equal(t, []string{"r1", "r2"}, batches[0].DeviceIDs)
	require.Equal(t, []string{"r3", "r4"}, batches[1].DeviceIDs)
	require.Equal(t, []string{"r5"}, batches[2].DeviceIDs)

	// Union equals DeviceIDs exactly once: no duplicates, no omissions.
	seen := map[string]int{}
	for _, b := range batches {
		for _, id := range b.DeviceIDs {
			seen[id]++
		}
	}
	require.Len(t, seen, len(p.DeviceIDs))
	for id, n := range seen {
		require.Equalf(t, 1, n, "device %s appears %d times", id, n)
	}
}

func TestBatchesSingleAndOversized(t *testing.T) {
	p := Plan{DeviceIDs: []string{"r1", "r2"}, BatchSize: 10}
	batches := p.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, p.DeviceIDs, batches[0].DeviceIDs)

	p.BatchSize = 0 // defends against zero; treated as 1
	require.Len(t, p.Batches(), 2)
}

func TestPlanExpired(t *testing.T) {
	now := time.Now()
	p := Plan{ExpiresAt: now.Add(time.Hour)}
	require.False(t, p.Expired(now))
	require.True(t, p.Expired(now.Add(2*time.Hour)))
	require.False(t, Plan{}.Expired(now))
}

func TestDesiredChangeValidate(t *testing.T) {
	require.NoError(t, DesiredChange{Type: ChangeSetDNS, DNSServers: []string{"1.1.1.1"}}.Validate())
	require.Error(t, DesiredChange{Type: ChangeSetDNS}.Validate())
	require.Error(t, DesiredChange{Type: "reboot"}.Validate())
	require.Error(t, DesiredChange{Type: ChangeSetSyslog}.Validate())
}
