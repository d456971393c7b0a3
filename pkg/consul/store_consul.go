//go:build consul

package consul

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"router-fleet/pkg/model"
)

// Store is a Consul KV backed persistence layer for the control plane.
type Store struct {
	cli *consulapi.Client
}

const (
	planPrefix     = "router-fleet/plans/"
	jobPrefix      = "router-fleet/jobs/"
	cancelPrefix   = "router-fleet/cancel/"
	recordPrefix   = "router-fleet/records/"
	snapshotPrefix = "router-fleet/snapshots/"
	auditPrefix    = "router-fleet/audit/"
	devicePrefix   = "router-fleet/devices/"
)

func NewStore(addr string) *Store {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		log.Printf("consul client init failed for %s: %v", cfg.Address, err)
	}
	return &Store{cli: cli}
}

func (s *Store) put(key string, v interface{}) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) get(key string, v interface{}) (bool, error) {
	if s.cli == nil {
		return false, fmt.Errorf("consul client not configured")
	}
	kv, _, err := s.cli.KV().Get(key, nil)
	if err != nil || kv == nil {
		return false, err
	}
	return true, json.Unmarshal(kv.Value, v)
}

func (s *Store) list(prefix string, each func([]byte)) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	pairs, _, err := s.cli.KV().List(prefix, nil)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		each(p.Value)
	}
	return nil
}

func (s *Store) Ping() error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	_, err := s.cli.Status().Leader()
	return err
}

func (s *Store) SavePlan(p model.Plan) error { return s.put(planPrefix+p.ID, p) }

func (s *Store) GetPlan(id string) (model.Plan, bool, error) {
	var p model.Plan
	ok, err := s.get(planPrefix+id, &p)
	return p, ok, err
}

func (s *Store) ListPlans(limit int) ([]model.Plan, error) {
	var out []model.Plan
	err := s.list(planPrefix, func(b []byte) {
		var p model.Plan
		if json.Unmarshal(b, &p) == nil {
			out = append(out, p)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, err
}

func (s *Store) SetPlanApproval(id, approval string) error {
	p, ok, err := s.GetPlan(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("plan not found")
	}
	p.Approval = approval
	return s.SavePlan(p)
}

func (s *Store) CreateJob(j model.Job) error {
	if _, ok, _ := s.GetJob(j.ID); ok {
		return fmt.Errorf("job %s exists", j.ID)
	}
	return s.put(jobPrefix+j.ID, j)
}

func (s *Store) GetJob(id string) (model.Job, bool, error) {
	var j model.Job
	ok, err := s.get(jobPrefix+id, &j)
	return j, ok, err
}

func (s *Store) ListJobs(limit int) ([]model.Job, error) {
	var out []model.Job
	err := s.list(jobPrefix, func(b []byte) {
		var j model.Job
		if json.Unmarshal(b, &j) == nil {
			out = append(out, j)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, err
}

func (s *Store) UpdateJobStatus(id string, next model.JobStatus, reason string) error {
	j, ok, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job not found")
	}
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("illegal job transition %s -> %s", j.Status, next)
	}
	j.Status = next
	if reason != "" {
		j.Reason = reason
	}
	j.UpdatedAt = time.Now()
	return s.put(jobPrefix+id, j)
}

func (s *Store) SetJobProgress(id string, percent, currentBatch int) error {
	j, ok, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job not found")
	}
	j.ProgressPercent = percent
	j.CurrentBatch = currentBatch
	j.UpdatedAt = time.Now()
	return s.put(jobPrefix+id, j)
}

func (s *Store) RequestCancellation(id string) error {
	if _, ok, err := s.GetJob(id); err != nil || !ok {
		if err != nil {
			return err
		}
		return fmt.Errorf("job not found")
	}
	return s.put(cancelPrefix+id, true)
}

func (s *Store) CancellationRequested(id string) (bool, error) {
	var flag bool
	ok, err := s.get(cancelPrefix+id, &flag)
	return ok && flag, err
}

func (s *Store) UpsertRecord(r model.DeviceExecutionRecord) error {
	key := recordPrefix + r.JobID + "/" + r.DeviceID
	var cur model.DeviceExecutionRecord
	if ok, err := s.get(key, &cur); err != nil {
		return err
	} else if ok && cur.Status != r.Status && !cur.Status.CanTransition(r.Status) {
		return fmt.Errorf("illegal record transition %s -> %s for device %s", cur.Status, r.Status, r.DeviceID)
	}
	r.UpdatedAt = time.Now()
	return s.put(key, r)
}

func (s *Store) ListRecords(jobID string) ([]model.DeviceExecutionRecord, error) {
	var out []model.DeviceExecutionRecord
	err := s.list(recordPrefix+jobID+"/", func(b []byte) {
		var r model.DeviceExecutionRecord
		if json.Unmarshal(b, &r) == nil {
			out = append(out, r)
		}
	})
	return out, err
}

func (s *Store) SaveSnapshot(snap model.Snapshot) error {
	key := snapshotPrefix + snap.JobID + "/" + snap.DeviceID
	var cur model.Snapshot
	if ok, _ := s.get(key, &cur); ok {
		return nil // first capture wins
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now()
	}
	return s.put(key, snap)
}

func (s *Store) GetSnapshot(jobID, deviceID string) (model.Snapshot, bool, error) {
	var snap model.Snapshot
	ok, err := s.get(snapshotPrefix+jobID+"/"+deviceID, &snap)
	return snap, ok, err
}

func (s *Store) AppendAudit(e model.AuditEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	key := fmt.Sprintf("%s%d-%s", auditPrefix, e.Timestamp.UnixNano(), e.Target)
	return s.put(key, e)
}

func (s *Store) ListAudit(limit int) ([]model.AuditEvent, error) {
	var out []model.AuditEvent
	err := s.list(auditPrefix, func(b []byte) {
		var e model.AuditEvent
		if json.Unmarshal(b, &e) == nil {
			out = append(out, e)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, err
}

// UpsertDevice and friends back the Consul device registry.
func (s *Store) UpsertDevice(d model.Device) error { return s.put(devicePrefix+d.ID, d) }

func (s *Store) GetDevice(id string) (model.Device, bool, error) {
	var d model.Device
	ok, err := s.get(devicePrefix+id, &d)
	return d, ok, err
}

func (s *Store) ListDevices() ([]model.Device, error) {
	var out []model.Device
	err := s.list(devicePrefix, func(b []byte) {
		var d model.Device
		if json.Unmarshal(b, &d) == nil {
			out = append(out, d)
		}
	})
	return out, err
}
