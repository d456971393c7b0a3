package rollout

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"router-fleet/pkg/audit"
	"router-fleet/pkg/change"
	"router-fleet/pkg/health"
	"router-fleet/pkg/model"
	"router-fleet/pkg/registry"
	"router-fleet/pkg/store"
	"router-fleet/pkg/transport"
)

// Orchestrator drives one job at a time through its plan's batches. It is the
// only writer of the Job record; device goroutines write only their own
// execution records.
type Orchestrator struct {
	store    store.Store
	registry registry.Registry
	router   *transport.Router
	computer *change.Computer
	gate     *health.Gate
	rollback *Engine
	sink     audit.Sink
	bus      *Bus
	workers  int64 // global worker cap within a batch
}

// NewOrchestrator wires the rollout core. workers bounds in-flight devices per
// batch on top of the router's per-device limit.
func NewOrchestrator(st store.Store, reg registry.Registry, router *transport.Router, gate *health.Gate, sink audit.Sink, bus *Bus, workers int64) *Orchestrator {
	if workers < 1 {
		workers = 8
	}
	return &Orchestrator{
		store:    st,
		registry: reg,
		router:   router,
		computer: change.NewComputer(router),
		gate:     gate,
		rollback: NewEngine(st, reg, router, sink),
		sink:     sink,
		bus:      bus,
		workers:  workers,
	}
}

// Rollback exposes the engine for manual rollback triggers.
func (o *Orchestrator) Rollback() *Engine { return o.rollback }

// Run executes the job until it reaches a terminal state. Cancellation is
// cooperative and observed at batch boundaries only; an in-progress batch
// always finishes.
func (o *Orchestrator) Run(ctx context.Context, jobID string) {
	job, ok, err := o.store.GetJob(jobID)
	if err != nil || !ok {
		log.Printf("rollout: job %s not loadable: %v", jobID, err)
		return
	}
	plan, ok, err := o.store.GetPlan(job.PlanID)
	if err != nil || !ok {
		o.transition(jobID, model.JobPending, model.JobFailed, "plan not loadable")
		return
	}

	// Seed a pending record per device so status queries see the full set.
	batches := plan.Batches()
	for _, b := range batches {
		for _, deviceID := range b.DeviceIDs {
			if err := o.store.UpsertRecord(model.DeviceExecutionRecord{
				JobID: jobID, DeviceID: deviceID, Batch: b.Index, Status: model.RecordPending,
			}); err != nil {
				o.transition(jobID, model.JobPending, model.JobFailed, fmt.Sprintf("seed records: %v", err))
				return
			}
		}
	}
	o.transition(jobID, model.JobPending, model.JobApplying, "")

	total := len(plan.DeviceIDs)
	settled := 0
	for _, batch := range batches {
		if cancelled, _ := o.store.CancellationRequested(jobID); cancelled {
			o.transition(jobID, model.JobApplying, model.JobCancelled, "cancellation requested")
			return
		}
		_ = o.store.SetJobProgress(jobID, percent(settled, total), batch.Index)
		o.bus.Publish(model.ProgressEvent{JobID: jobID, Type: model.EventBatchStarted, Batch: batch.Index})

		batchFailed := o.runBatch(ctx, jobID, plan, batch)
		settled += len(batch.DeviceIDs)
		_ = o.store.SetJobProgress(jobID, percent(settled, total), batch.Index)
		o.bus.Publish(model.ProgressEvent{JobID: jobID, Type: model.EventBatchSettled, Batch: batch.Index})

		gateOK, worst := o.gateBatch(plan, batch)
		if batchFailed || !gateOK {
			reason := gateReason(batchFailed, worst)
			if plan.RollbackOnFail {
				o.transition(jobID, model.JobApplying, model.JobRollingBack, reason)
				o.rollback.Run(ctx, jobID, plan)
				o.transition(jobID, model.JobRollingBack, model.JobRolledBack, "")
			} else {
				o.transition(jobID, model.JobApplying, model.JobHalted, reason)
			}
			return
		}

		if batch.Index < len(batches)-1 && plan.PauseBetween > 0 {
			select {
			case <-ctx.Done():
				o.transition(jobID, model.JobApplying, model.JobCancelled, "context cancelled")
				return
			case <-time.After(plan.PauseBetween):
			}
		}
	}
	o.transition(jobID, model.JobApplying, model.JobCompleted, "")
}

// runBatch applies the change to every device concurrently and reports
// whether any device failed. One device's failure never aborts its siblings.
func (o *Orchestrator) runBatch(ctx context.Context, jobID string, plan model.Plan, batch model.Batch) bool {
	sem := semaphore.NewWeighted(o.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false

	for _, deviceID := range batch.DeviceIDs {
		wg.Add(1)
		go func(deviceID string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				o.settleDevice(jobID, deviceID, batch.Index, model.RecordFailed, "", err.Error())
				mu.Lock()
				failed = true
				mu.Unlock()
				return
			}
			defer sem.Release(1)
			if ok := o.applyDevice(ctx, jobID, plan, batch.Index, deviceID); !ok {
				mu.Lock()
				failed = true
				mu.Unlock()
			}
		}(deviceID)
	}
	wg.Wait()
	return failed
}

// applyDevice runs snapshot -> compute -> mutate for one device and settles
// its record. Read failures share the mutate failure channel.
func (o *Orchestrator) applyDevice(ctx context.Context, jobID string, plan model.Plan, batchIndex int, deviceID string) bool {
	if err := o.store.UpsertRecord(model.DeviceExecutionRecord{
		JobID: jobID, DeviceID: deviceID, Batch: batchIndex, Status: model.RecordApplying,
	}); err != nil {
		log.Printf("rollout: job=%s device=%s record update failed: %v", jobID, deviceID, err)
		return false
	}

	device, err := o.registry.GetDevice(deviceID)
	if err != nil {
		o.settleDevice(jobID, deviceID, batchIndex, model.RecordFailed, "", fmt.Sprintf("registry: %v", err))
		return false
	}

	cs, read, err := o.computer.Compute(ctx, device, plan.Change)
	if err != nil {
		o.sink.Record(audit.DeviceOp(jobID, deviceID, transport.OpGetState, "", "failed", err.Error()))
		o.settleDevice(jobID, deviceID, batchIndex, model.RecordFailed, "", err.Error())
		return false
	}
	o.sink.Record(audit.DeviceOp(jobID, deviceID, transport.OpGetState, read.Channel, "ok", ""))

	if !cs.Changed {
		// Already at desired state: no mutate call, no snapshot needed.
		o.settleDevice(jobID, deviceID, batchIndex, model.RecordApplied, read.Channel, "")
		return true
	}

	if err := o.store.SaveSnapshot(model.Snapshot{JobID: jobID, DeviceID: deviceID, State: *read.State}); err != nil {
		o.settleDevice(jobID, deviceID, batchIndex, model.RecordFailed, read.Channel, fmt.Sprintf("snapshot: %v", err))
		return false
	}

	res, err := o.router.Execute(ctx, device, transport.Operation{
		Name: transport.OpApplyConfig, Kind: transport.OpMutate, Ops: cs.Ops,
	})
	if err != nil {
		o.sink.Record(audit.DeviceOp(jobID, deviceID, transport.OpApplyConfig, model.ChannelPrimary, "failed", err.Error()))
		o.settleDevice(jobID, deviceID, batchIndex, model.RecordFailed, model.ChannelPrimary, err.Error())
		return false
	}
	o.sink.Record(audit.DeviceOp(jobID, deviceID, transport.OpApplyConfig, res.Channel, "ok", ""))
	o.settleDevice(jobID, deviceID, batchIndex, model.RecordApplied, res.Channel, "")
	return true
}

func (o *Orchestrator) settleDevice(jobID, deviceID string, batchIndex int, status model.RecordStatus, channel model.Channel, detail string) {
	if err := o.store.UpsertRecord(model.DeviceExecutionRecord{
		JobID: jobID, DeviceID: deviceID, Batch: batchIndex, Status: status, Channel: channel, Error: detail,
	}); err != nil {
		log.Printf("rollout: job=%s device=%s record update failed: %v", jobID, deviceID, err)
	}
	o.bus.Publish(model.ProgressEvent{
		JobID: jobID, Type: model.EventDeviceStatus, DeviceID: deviceID, Batch: batchIndex,
		Status: string(status), Detail: detail,
	})
}

// gateBatch classifies every device in the settled batch. Critical always
// fails the gate; degraded fails it unless the plan tolerates degraded.
func (o *Orchestrator) gateBatch(plan model.Plan, batch model.Batch) (bool, model.HealthState) {
	worst := model.HealthHealthy
	ok := true
	for _, deviceID := range batch.DeviceIDs {
		state := o.gate.Evaluate(deviceID)
		if rank(state) > rank(worst) {
			worst = state
		}
		switch state {
		case model.HealthCritical:
			ok = false
		case model.HealthDegraded:
			if !plan.TolerateDegraded {
				ok = false
			}
		}
	}
	return ok, worst
}

func (o *Orchestrator) transition(jobID string, from, to model.JobStatus, reason string) {
	if err := o.store.UpdateJobStatus(jobID, to, reason); err != nil {
		log.Printf("rollout: job=%s transition to %s failed: %v", jobID, to, err)
		return
	}
	o.sink.Record(audit.JobTransition(jobID, from, to, reason))
	o.bus.Publish(model.ProgressEvent{JobID: jobID, Type: model.EventJobStatus, Status: string(to), Detail: reason})
	log.Printf("rollout: job=%s %s -> %s %s", jobID, from, to, reason)
}

func percent(settled, total int) int {
	if total == 0 {
		return 100
	}
	return settled * 100 / total
}

func rank(s model.HealthState) int {
	switch s {
	case model.HealthDegraded:
		return 1
	case model.HealthCritical:
		return 2
	}
	return 0
}

func gateReason(batchFailed bool, worst model.HealthState) string {
	switch {
	case batchFailed && worst != model.HealthHealthy:
		return fmt.Sprintf("device failures and %s health in batch", worst)
	case batchFailed:
		return "device failures in batch"
	default:
		return fmt.Sprintf("%s health in batch", worst)
	}
}
