package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"router-fleet/pkg/model"
)

// SQLiteStore persists the control plane to a local SQLite file. Rows hold
// JSON blobs of the model types; keys and status columns exist for lookups.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS plans(id TEXT PRIMARY KEY, seq INTEGER, body TEXT);
CREATE TABLE IF NOT EXISTS jobs(id TEXT PRIMARY KEY, seq INTEGER, status TEXT, cancelled INTEGER DEFAULT 0, body TEXT);
CREATE TABLE IF NOT EXISTS records(job_id TEXT, device_id TEXT, status TEXT, body TEXT, PRIMARY KEY(job_id, device_id));
CREATE TABLE IF NOT EXISTS snapshots(job_id TEXT, device_id TEXT, body TEXT, PRIMARY KEY(job_id, device_id));
CREATE TABLE IF NOT EXISTS audit(id INTEGER PRIMARY KEY AUTOINCREMENT, ts INTEGER, body TEXT);
`

// NewSQLiteStore opens (or creates) the database at path and runs the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping() error { return s.db.Ping() }

func (s *SQLiteStore) SavePlan(p model.Plan) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO plans(id, seq, body) VALUES(?,?,?) ON CONFLICT(id) DO UPDATE SET body=excluded.body`,
		p.ID, time.Now().UnixNano(), string(b))
	return err
}

func (s *SQLiteStore) GetPlan(id string) (model.Plan, bool, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM plans WHERE id=?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return model.Plan{}, false, nil
	}
	if err != nil {
		return model.Plan{}, false, err
	}
	var p model.Plan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return model.Plan{}, false, err
	}
	return p, true, nil
}

func (s *SQLiteStore) ListPlans(limit int) ([]model.Plan, error) {
	rows, err := s.db.Query(`SELECT body FROM plans ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Plan
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p model.Plan
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetPlanApproval(id, approval string) error {
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

func (s *SQLiteStore) CreateJob(j model.Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO jobs(id, seq, status, body) VALUES(?,?,?,?)`,
		j.ID, time.Now().UnixNano(), string(j.Status), string(b))
	return err
}

func (s *SQLiteStore) GetJob(id string) (model.Job, bool, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM jobs WHERE id=?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return model.Job{}, false, nil
	}
	if err != nil {
		return model.Job{}, false, err
	}
	var j model.Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return model.Job{}, false, err
	}
	return j, true, nil
}

func (s *SQLiteStore) ListJobs(limit int) ([]model.Job, error) {
	rows, err := s.db.Query(`SELECT body FROM jobs ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Job
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var j model.Job
		if err := json.Unmarshal([]byte(body), &j); err != nil {
			continue
		}
		out = append(out, j)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, rows.Err()
}

func (s *SQLiteStore) saveJob(j model.Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE jobs SET status=?, body=? WHERE id=?`, string(j.Status), string(b), j.ID)
	return err
}

func (s *SQLiteStore) UpdateJobStatus(id string, next model.JobStatus, reason string) error {
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
	return s.saveJob(j)
}

func (s *SQLiteStore) SetJobProgress(id string, percent, currentBatch int) error {
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
	return s.saveJob(j)
}

func (s *SQLiteStore) RequestCancellation(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET cancelled=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job not found")
	}
	return nil
}

func (s *SQLiteStore) CancellationRequested(id string) (bool, error) {
	var cancelled int
	err := s.db.QueryRow(`SELECT cancelled FROM jobs WHERE id=?`, id).Scan(&cancelled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return cancelled == 1, err
}

func (s *SQLiteStore) UpsertRecord(r model.DeviceExecutionRecord) error {
	var status string
	err := s.db.QueryRow(`SELECT status FROM records WHERE job_id=? AND device_id=?`, r.JobID, r.DeviceID).Scan(&status)
	if err == nil {
		cur := model.RecordStatus(status)
		if cur != r.Status && !cur.CanTransition(r.Status) {
			return fmt.Errorf("illegal record transition %s -> %s for device %s", cur, r.Status, r.DeviceID)
		}
	} else if err != sql.ErrNoRows {
		return err
	}
	r.UpdatedAt = time.Now()
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO records(job_id, device_id, status, body) VALUES(?,?,?,?)
		 ON CONFLICT(job_id, device_id) DO UPDATE SET status=excluded.status, body=excluded.body`,
		r.JobID, r.DeviceID, string(r.Status), string(b))
	return err
}

func (s *SQLiteStore) ListRecords(jobID string) ([]model.DeviceExecutionRecord, error) {
	rows, err := s.db.Query(`SELECT body FROM records WHERE job_id=? ORDER BY device_id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.DeviceExecutionRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r model.DeviceExecutionRecord
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSnapshot(snap model.Snapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now()
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	// INSERT OR IGNORE keeps the first capture; snapshots are never overwritten.
	_, err = s.db.Exec(`INSERT OR IGNORE INTO snapshots(job_id, device_id, body) VALUES(?,?,?)`,
		snap.JobID, snap.DeviceID, string(b))
	return err
}

func (s *SQLiteStore) GetSnapshot(jobID, deviceID string) (model.Snapshot, bool, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM snapshots WHERE job_id=? AND device_id=?`, jobID, deviceID).Scan(&body)
	if err == sql.ErrNoRows {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return model.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *SQLiteStore) AppendAudit(e model.AuditEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO audit(ts, body) VALUES(?,?)`, e.Timestamp.UnixNano(), string(b))
	return err
}

func (s *SQLiteStore) ListAudit(limit int) ([]model.AuditEvent, error) {
	q := `SELECT body FROM audit ORDER BY id`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AuditEvent
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e model.AuditEvent
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, rows.Err()
}
