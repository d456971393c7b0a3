package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"router-fleet/pkg/model"
)

// MemoryStore is the default in-process implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	plans     map[string]model.Plan
	planOrder []string
	jobs      map[string]model.Job
	jobOrder  []string
	cancelled map[string]bool
	records   map[string]map[string]model.DeviceExecutionRecord // jobID -> deviceID
	snapshots map[string]model.Snapshot                         // jobID/deviceID
	audit     []model.AuditEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:     make(map[string]model.Plan),
		jobs:      make(map[string]model.Job),
		cancelled: make(map[string]bool),
		records:   make(map[string]map[string]model.DeviceExecutionRecord),
		snapshots: make(map[string]model.Snapshot),
	}
}

// Ping reports readiness for health/info endpoints.
func (m *MemoryStore) Ping() error { return nil }

func (m *MemoryStore) SavePlan(p model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; !ok {
		m.planOrder = append(m.planOrder, p.ID)
	}
	m.plans[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPlan(id string) (model.Plan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	return p, ok, nil
}

func (m *MemoryStore) ListPlans(limit int) ([]model.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.planOrder
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]model.Plan, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.plans[id])
	}
	return out, nil
}

func (m *MemoryStore) SetPlanApproval(id, approval string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return fmt.Errorf("plan not found")
	}
	p.Approval = approval
	m.plans[id] = p
	return nil
}

func (m *MemoryStore) CreateJob(j model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return fmt.Errorf("job %s exists", j.ID)
	}
	m.jobs[j.ID] = j
	m.jobOrder = append(m.jobOrder, j.ID)
	m.records[j.ID] = make(map[string]model.DeviceExecutionRecord)
	return nil
}

func (m *MemoryStore) GetJob(id string) (model.Job, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok, nil
}

func (m *MemoryStore) ListJobs(limit int) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.jobOrder
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]model.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.jobs[id])
	}
	return out, nil
}

func (m *MemoryStore) UpdateJobStatus(id string, next model.JobStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
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
	m.jobs[id] = j
	return nil
}

func (m *MemoryStore) SetJobProgress(id string, percent, currentBatch int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job not found")
	}
	j.ProgressPercent = percent
	j.CurrentBatch = currentBatch
	j.UpdatedAt = time.Now()
	m.jobs[id] = j
	return nil
}

func (m *MemoryStore) RequestCancellation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("job not found")
	}
	m.cancelled[id] = true
	return nil
}

func (m *MemoryStore) CancellationRequested(id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelled[id], nil
}

func (m *MemoryStore) UpsertRecord(r model.DeviceExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, ok := m.records[r.JobID]
	if !ok {
		return fmt.Errorf("job not found")
	}
	if cur, ok := recs[r.DeviceID]; ok && cur.Status != r.Status && !cur.Status.CanTransition(r.Status) {
		return fmt.Errorf("illegal record transition %s -> %s for device %s", cur.Status, r.Status, r.DeviceID)
	}
	r.UpdatedAt = time.Now()
	recs[r.DeviceID] = r
	return nil
}

func (m *MemoryStore) ListRecords(jobID string) ([]model.DeviceExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[jobID]
	out := make([]model.DeviceExecutionRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Batch != out[j].Batch {
			return out[i].Batch < out[j].Batch
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out, nil
}

func (m *MemoryStore) SaveSnapshot(s model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.JobID + "/" + s.DeviceID
	if _, ok := m.snapshots[key]; ok {
		return nil // first capture wins; never overwritten
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = time.Now()
	}
	m.snapshots[key] = s
	return nil
}

func (m *MemoryStore) GetSnapshot(jobID, deviceID string) (model.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[jobID+"/"+deviceID]
	return s, ok, nil
}

func (m *MemoryStore) AppendAudit(e model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	out := make([]model.AuditEvent, 0, limit)
	for i := len(m.audit) - limit; i < len(m.audit); i++ {
		out = append(out, m.audit[i])
	}
	return out, nil
}
