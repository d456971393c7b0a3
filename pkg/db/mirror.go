package db

import (
	"encoding/json"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"router-fleet/pkg/model"
)

// PlanRow mirrors a plan into MySQL for durable operator reporting.
type PlanRow struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Approval  string    `gorm:"size:16" json:"approval"`
	Body      string    `gorm:"type:json" json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobRow mirrors a job's latest state.
type JobRow struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	PlanID    string    `gorm:"index;size:64" json:"planId"`
	Status    string    `gorm:"size:16" json:"status"`
	Body      string    `gorm:"type:json" json:"body"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuditRow mirrors one audit event.
type AuditRow struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Target    string    `gorm:"index;size:64" json:"target"`
	Body      string    `gorm:"type:json" json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Mirror writes best-effort copies of control-plane state to MySQL. Failures
// are logged and ignored; the in-process store stays authoritative.
type Mirror struct {
	db *gorm.DB
}

func NewMirror(db *gorm.DB) *Mirror {
	return &Mirror{db: db}
}

func (m *Mirror) SavePlan(p model.Plan) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	row := PlanRow{ID: p.ID, Approval: p.Approval, Body: string(b), CreatedAt: p.CreatedAt}
	if err := m.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		log.Printf("mirror: save plan %s failed: %v", p.ID, err)
	}
}

func (m *Mirror) SaveJob(j model.Job) {
	b, err := json.Marshal(j)
	if err != nil {
		return
	}
	row := JobRow{ID: j.ID, PlanID: j.PlanID, Status: string(j.Status), Body: string(b), UpdatedAt: j.UpdatedAt}
	if err := m.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		log.Printf("mirror: save job %s failed: %v", j.ID, err)
	}
}

func (m *Mirror) SaveAudit(e model.AuditEvent) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	row := AuditRow{Target: e.Target, Body: string(b), CreatedAt: e.Timestamp}
	if err := m.db.Create(&row).Error; err != nil {
		log.Printf("mirror: save audit failed: %v", err)
	}
}
