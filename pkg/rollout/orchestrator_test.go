package rollout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"router-fleet/pkg/audit"
	"router-fleet/pkg/health"
	"router-fleet/pkg/model"
	"router-fleet/pkg/registry"
	"router-fleet/pkg/store"
	"router-fleet/pkg/transport"
)

// fleetChannel emulates a whole fleet behind one transport channel: reads
// serve per-device state, mutations apply ops to it. Failures and read hooks
// are scriptable per device.
type fleetChannel struct {
	mu          sync.Mutex
	states      map[string]model.DeviceState
	failMutate  map[string]error
	failMutateN map[string]int // fail the next N mutations, then recover
	failRead    map[string]error
	attempts    map[string]int // mutate attempts, failed ones included
	mutates     map[string]int // mutations that landed
	onRead      func(deviceID string)
}

func newFleetChannel() *fleetChannel {
	return &fleetChannel{
		states:      map[string]model.DeviceState{},
		failMutate:  map[string]error{},
		failMutateN: map[string]int{},
		failRead:    map[string]error{},
		attempts:    map[string]int{},
		mutates:     map[string]int{},
	}
}

func (c *fleetChannel) Name() string { return "fake" }

func (c *fleetChannel) Execute(_ context.Context, device model.Device, op transport.Operation) (transport.Result, error) {
	c.mu.Lock()
	hook := c.onRead
	c.mu.Unlock()
	if hook != nil && op.Kind == transport.OpRead {
		hook(device.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[device.ID]
	if !ok {
		return transport.Result{}, fmt.Errorf("no such device %s", device.ID)
	}
	if op.Kind == transport.OpMutate {
		c.attempts[device.ID]++
		if err := c.failMutate[device.ID]; err != nil {
			return transport.Result{}, err
		}
		if c.failMutateN[device.ID] > 0 {
			c.failMutateN[device.ID]--
			return transport.Result{}, fmt.Errorf("transient mutate failure on %s", device.ID)
		}
		c.mutates[device.ID]++
		for _, o := range op.Ops {
			switch o.Field {
			case "dnsServers":
				state.DNSServers = o.Value.([]string)
			case "ntpServers":
				state.NTPServers = o.Value.([]string)
			case "syslogHost":
				state.SyslogHost = o.Value.(string)
			}
		}
		c.states[device.ID] = state
	} else if err := c.failRead[device.ID]; err != nil {
		return transport.Result{}, err
	}
	snap := state
	snap.DeviceID = device.ID
	return transport.Result{State: &snap, Channel: model.ChannelPrimary}, nil
}

func (c *fleetChannel) dns(deviceID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[deviceID].DNSServers
}

func (c *fleetChannel) mutateCount(deviceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutates[deviceID]
}

type fixture struct {
	store     store.Store
	registry  *registry.MemoryRegistry
	channel   *fleetChannel
	collector *health.MemoryCollector
	bus       *Bus
	orch      *Orchestrator
}

// newFixture seeds n devices r1..rn, all healthy, all on dns 8.8.8.8.
func newFixture(t *testing.T, n int) (*fixture, []string) {
	t.Helper()
	f := &fixture{
		store:     store.NewMemory(),
		registry:  registry.NewMemoryRegistry(),
		channel:   newFleetChannel(),
		collector: health.NewMemoryCollector(),
		bus:       NewBus(),
	}
	router := transport.NewRouter(f.channel, nil, transport.RouterConfig{
		MaxRetries: 0, InitialBackoff: time.Millisecond, PerDeviceLimit: 2,
	})
	gate := health.NewGate(f.collector, health.DefaultThresholds())
	f.orch = NewOrchestrator(f.store, f.registry, router, gate, audit.NewStoreSink(f.store), f.bus, 4)
	f.orch.Rollback().backoff = time.Millisecond

	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("r%d", i)
		ids = append(ids, id)
		require.NoError(t, f.registry.UpsertDevice(model.Device{ID: id, Address: "http://" + id}))
		f.channel.states[id] = model.DeviceState{DNSServers: []string{"8.8.8.8"}}
		f.collector.Record(model.HealthSignal{DeviceID: id, CPUPercent: 10, MemoryPercent: 20, Reachable: true, Timestamp: time.Now()})
	}
	return f, ids
}

func (f *fixture) startJob(t *testing.T, plan model.Plan) model.Job {
	t.Helper()
	require.NoError(t, f.store.SavePlan(plan))
	job := model.Job{ID: "job-" + plan.ID, PlanID: plan.ID, Status: model.JobPending, CreatedAt: time.Now()}
	require.NoError(t, f.store.CreateJob(job))
	return job
}

func (f *fixture) job(t *testing.T, id string) model.Job {
	t.Helper()
	job, ok, err := f.store.GetJob(id)
	require.NoError(t, err)
	require.True(t, ok)
	return job
}

func (f *fixture) recordsByDevice(t *testing.T, jobID string) map[string]model.DeviceExecutionRecord {
	t.Helper()
	records, err := f.store.ListRecords(jobID)
	require.NoError(t, err)
	out := map[string]model.DeviceExecutionRecord{}
	for _, rec := range records {
		out[rec.DeviceID] = rec
	}
	return out
}

func dnsPlan(id string, deviceIDs []string, batchSize int) model.Plan {
	return model.Plan{
		ID:             id,
		DeviceIDs:      deviceIDs,
		Change:         model.DesiredChange{Type: model.ChangeSetDNS, DNSServers: []string{"1.1.1.1"}},
		BatchSize:      batchSize,
		RollbackOnFail: true,
		Approval:       model.ApprovalApproved,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(time.Hour),
	}
}

func TestRunCompletesAllBatches(t *testing.T) {
	f, ids := newFixture(t, 5)
	job := f.startJob(t, dnsPlan("p1", ids, 2))

	f.orch.Run(context.Background(), job.ID)

	got := f.job(t, job.ID)
	require.Equal(t, model.JobCompleted, got.Status)
	require.Equal(t, 100, got.ProgressPercent)

	records := f.recordsByDevice(t, job.ID)
	require.Len(t, records, 5)
	for _, id := range ids {
		require.Equal(t, model.RecordApplied, records[id].Status, id)
		require.Equal(t, model.ChannelPrimary, records[id].Channel, id)
		require.Equal(t, []string{"1.1.1.1"}, f.channel.dns(id), id)
	}
	// devices are partitioned [2,2,1] in plan order
	require.Equal(t, 0, records["r1"].Batch)
	require.Equal(t, 1, records["r3"].Batch)
	require.Equal(t, 2, records["r5"].Batch)
}

func TestRunAlreadyAtDesiredSkipsMutate(t *testing.T) {
	f, ids := newFixture(t, 2)
	f.channel.states["r2"] = model.DeviceState{DNSServers: []string{"1.1.1.1"}}
	job := f.startJob(t, dnsPlan("p1", ids, 2))

	f.orch.Run(context.Background(), job.ID)

	require.Equal(t, model.JobCompleted, f.job(t, job.ID).Status)
	records := f.recordsByDevice(t, job.ID)
	require.Equal(t, model.RecordApplied, records["r2"].Status)
	require.Zero(t, f.channel.mutateCount("r2"))

	// no mutation means no snapshot for that device
	_, ok, err := f.store.GetSnapshot(job.ID, "r2")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = f.store.GetSnapshot(job.ID, "r1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunDeviceFailureRollsBackJob(t *testing.T) {
	f, ids := newFixture(t, 5)
	f.channel.failMutate["r3"] = fmt.Errorf("config rejected")
	job := f.startJob(t, dnsPlan("p1", ids, 2))

	f.orch.Run(context.Background(), job.ID)

	require.Equal(t, model.JobRolledBack, f.job(t, job.ID).Status)
	records := f.recordsByDevice(t, job.ID)

	// batch 1 applied then restored; r3's partner r4 likewise
	for _, id := range []string{"r1", "r2", "r4"} {
		require.Equal(t, model.RecordRolledBack, records[id].Status, id)
		require.Equal(t, []string{"8.8.8.8"}, f.channel.dns(id), id)
	}
	require.Equal(t, model.RecordFailed, records["r3"].Status)
	// batch 3 was never started
	require.Equal(t, model.RecordPending, records["r5"].Status)
	require.Zero(t, f.channel.mutateCount("r5"))
}

func TestRunCriticalHealthHaltsWithoutRollback(t *testing.T) {
	f, ids := newFixture(t, 4)
	plan := dnsPlan("p1", ids, 2)
	plan.RollbackOnFail = false
	job := f.startJob(t, plan)

	// r2 goes critical once its batch settles
	f.collector.Record(model.HealthSignal{DeviceID: "r2", CPUPercent: 99, Reachable: true, Timestamp: time.Now().Add(time.Second)})

	f.orch.Run(context.Background(), job.ID)

	got := f.job(t, job.ID)
	require.Equal(t, model.JobHalted, got.Status)
	require.Contains(t, got.Reason, "critical")

	records := f.recordsByDevice(t, job.ID)
	// the applied batch is left in place for operator inspection
	require.Equal(t, model.RecordApplied, records["r1"].Status)
	require.Equal(t, model.RecordPending, records["r3"].Status)
	require.Equal(t, model.RecordPending, records["r4"].Status)
}

func TestRunDegradedHealthToleratedWhenRequested(t *testing.T) {
	f, ids := newFixture(t, 2)
	plan := dnsPlan("p1", ids, 1)
	plan.TolerateDegraded = true
	job := f.startJob(t, plan)

	f.collector.Record(model.HealthSignal{DeviceID: "r1", CPUPercent: 85, Reachable: true, Timestamp: time.Now().Add(time.Second)})

	f.orch.Run(context.Background(), job.ID)
	require.Equal(t, model.JobCompleted, f.job(t, job.ID).Status)
}

func TestRunDegradedHealthRollsBackByDefault(t *testing.T) {
	f, ids := newFixture(t, 2)
	job := f.startJob(t, dnsPlan("p1", ids, 1))

	f.collector.Record(model.HealthSignal{DeviceID: "r1", CPUPercent: 85, Reachable: true, Timestamp: time.Now().Add(time.Second)})

	f.orch.Run(context.Background(), job.ID)

	got := f.job(t, job.ID)
	require.Equal(t, model.JobRolledBack, got.Status)
	records := f.recordsByDevice(t, job.ID)
	require.Equal(t, model.RecordRolledBack, records["r1"].Status)
	require.Equal(t, model.RecordPending, records["r2"].Status)
}

func TestRunCancellationObservedAtBatchBoundary(t *testing.T) {
	f, ids := newFixture(t, 4)
	job := f.startJob(t, dnsPlan("p1", ids, 2))

	// Cancel while batch 1 is in flight: the batch must settle before the
	// boundary check sees the flag.
	f.channel.onRead = func(string) {
		_ = f.store.RequestCancellation(job.ID)
	}

	f.orch.Run(context.Background(), job.ID)

	require.Equal(t, model.JobCancelled, f.job(t, job.ID).Status)
	records := f.recordsByDevice(t, job.ID)
	require.Equal(t, model.RecordApplied, records["r1"].Status)
	require.Equal(t, model.RecordApplied, records["r2"].Status)
	require.Equal(t, model.RecordPending, records["r3"].Status)
	require.Equal(t, model.RecordPending, records["r4"].Status)
}

func TestRunCancelledBeforeFirstBatch(t *testing.T) {
	f, ids := newFixture(t, 2)
	job := f.startJob(t, dnsPlan("p1", ids, 2))
	require.NoError(t, f.store.RequestCancellation(job.ID))

	f.orch.Run(context.Background(), job.ID)

	require.Equal(t, model.JobCancelled, f.job(t, job.ID).Status)
	for id, rec := range f.recordsByDevice(t, job.ID) {
		require.Equal(t, model.RecordPending, rec.Status, id)
		require.Zero(t, f.channel.mutateCount(id), id)
	}
}

func TestRunPublishesJobEvents(t *testing.T) {
	f, ids := newFixture(t, 2)
	ch, cancel := f.bus.Subscribe()
	defer cancel()
	job := f.startJob(t, dnsPlan("p1", ids, 2))

	f.orch.Run(context.Background(), job.ID)

	var statuses []string
	for len(ch) > 0 {
		e := <-ch
		if e.Type == model.EventJobStatus {
			statuses = append(statuses, e.Status)
		}
	}
	require.Equal(t, []string{string(model.JobApplying), string(model.JobCompleted)}, statuses)
}

func TestTriggerRollbackFromCompleted(t *testing.T) {
	f, ids := newFixture(t, 2)
	job := f.startJob(t, dnsPlan("p1", ids, 2))
	f.orch.Run(context.Background(), job.ID)
	require.Equal(t, model.JobCompleted, f.job(t, job.ID).Status)

	require.NoError(t, f.orch.TriggerRollback(context.Background(), job.ID, "operator request"))

	require.Equal(t, model.JobRolledBack, f.job(t, job.ID).Status)
	for _, id := range ids {
		require.Equal(t, []string{"8.8.8.8"}, f.channel.dns(id), id)
	}

	// terminal rolled_back job cannot be rolled back again
	require.Error(t, f.orch.TriggerRollback(context.Background(), job.ID, "again"))
}

func TestTriggerRollbackRejectsRunningJob(t *testing.T) {
	f, ids := newFixture(t, 1)
	job := f.startJob(t, dnsPlan("p1", ids, 1))
	require.Error(t, f.orch.TriggerRollback(context.Background(), job.ID, "too early"))
}
