package rollout

import (
	"context"
	"fmt"
	"log"
	"time"

	"router-fleet/pkg/audit"
	"router-fleet/pkg/change"
	"router-fleet/pkg/model"
	"router-fleet/pkg/registry"
	"router-fleet/pkg/store"
	"router-fleet/pkg/transport"
)

// rollbackAttempts bounds restore retries per device.
const rollbackAttempts = 3

// Engine restores applied devices to their per-job snapshots. One device's
// rollback failure never blocks another's.
type Engine struct {
	store    store.Store
	registry registry.Registry
	router   *transport.Router
	sink     audit.Sink
	backoff  time.Duration
}

func NewEngine(st store.Store, reg registry.Registry, router *transport.Router, sink audit.Sink) *Engine {
	return &Engine{store: st, registry: reg, router: router, sink: sink, backoff: 500 * time.Millisecond}
}

// Run attempts rollback for every record currently in applied state. Records
// in pending or failed have nothing to undo and are left alone.
func (e *Engine) Run(ctx context.Context, jobID string, plan model.Plan) {
	records, err := e.store.ListRecords(jobID)
	if err != nil {
		log.Printf("rollback: job=%s list records failed: %v", jobID, err)
		return
	}
	for _, rec := range records {
		if rec.Status != model.RecordApplied {
			continue
		}
		e.rollbackDevice(ctx, jobID, plan, rec)
	}
}

func (e *Engine) rollbackDevice(ctx context.Context, jobID string, plan model.Plan, rec model.DeviceExecutionRecord) {
	e.setStatus(rec, model.RecordRollingBack, "")

	snap, ok, err := e.store.GetSnapshot(jobID, rec.DeviceID)
	if err != nil {
		e.setStatus(rec, model.RecordRollbackFailed, fmt.Sprintf("snapshot: %v", err))
		return
	}
	if !ok {
		// Applied without a mutation (changed=false): nothing to restore.
		e.setStatus(rec, model.RecordRolledBack, "no mutation recorded")
		return
	}

	ops, err := change.RestoreOps(plan.Change.Type, snap.State)
	if err != nil {
		e.setStatus(rec, model.RecordRollbackFailed, err.Error())
		return
	}
	device, err := e.registry.GetDevice(rec.DeviceID)
	if err != nil {
		e.setStatus(rec, model.RecordRollbackFailed, fmt.Sprintf("registry: %v", err))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= rollbackAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				e.setStatus(rec, model.RecordRollbackFailed, "context cancelled")
				return
			case <-time.After(e.backoff * time.Duration(attempt-1)):
			}
		}
		_, err := e.router.Execute(ctx, device, transport.Operation{
			Name: transport.OpApplyConfig, Kind: transport.OpMutate, Ops: ops,
		})
		if err == nil {
			e.sink.Record(audit.DeviceOp(jobID, rec.DeviceID, "rollback", model.ChannelPrimary, "ok", ""))
			e.setStatus(rec, model.RecordRolledBack, "")
			return
		}
		lastErr = err
		log.Printf("rollback: job=%s device=%s attempt=%d failed: %v", jobID, rec.DeviceID, attempt, err)
	}
	e.sink.Record(audit.DeviceOp(jobID, rec.DeviceID, "rollback", model.ChannelPrimary, "failed", lastErr.Error()))
	e.setStatus(rec, model.RecordRollbackFailed, lastErr.Error())
}

func (e *Engine) setStatus(rec model.DeviceExecutionRecord, status model.RecordStatus, detail string) {
	if err := e.store.UpsertRecord(model.DeviceExecutionRecord{
		JobID: rec.JobID, DeviceID: rec.DeviceID, Batch: rec.Batch, Status: status, Channel: rec.Channel, Error: detail,
	}); err != nil {
		log.Printf("rollback: job=%s device=%s record update failed: %v", rec.JobID, rec.DeviceID, err)
	}
}

// TriggerRollback is the manual rollback entry point, valid once a job has
// settled in completed or halted.
func (o *Orchestrator) TriggerRollback(ctx context.Context, jobID, reason string) error {
	job, ok, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job not found")
	}
	if job.Status != model.JobCompleted && job.Status != model.JobHalted {
		return fmt.Errorf("job %s is %s; manual rollback requires completed or halted", jobID, job.Status)
	}
	plan, ok, err := o.store.GetPlan(job.PlanID)
	if err != nil || !ok {
		return fmt.Errorf("plan %s not loadable: %v", job.PlanID, err)
	}
	o.transition(jobID, job.Status, model.JobRollingBack, reason)
	o.rollback.Run(ctx, jobID, plan)
	o.transition(jobID, model.JobRollingBack, model.JobRolledBack, "")
	return nil
}
