package model

import "time"

// JobStatus is the overall state of a running or finished rollout.
type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobApplying    JobStatus = "applying"
	JobCompleted   JobStatus = "completed"
	JobHalted      JobStatus = "halted"
	JobRollingBack JobStatus = "rolling_back"
	JobRolledBack  JobStatus = "rolled_back"
	JobCancelled   JobStatus = "cancelled"
	JobFailed      JobStatus = "failed"
)

// Job is the live execution of an applied Plan. Mutated by the orchestrator
// only; read by status-query callers.
type Job struct {
	ID              string    `json:"id"`
	PlanID          string    `json:"planId"`
	Status          JobStatus `json:"status"`
	ProgressPercent int       `json:"progressPercent"`
	CurrentBatch    int       `json:"currentBatch"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Terminal reports whether the job can no longer move.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobHalted, JobRolledBack, JobCancelled, JobFailed:
		return true
	}
	return false
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:     {JobApplying, JobFailed},
	JobApplying:    {JobCompleted, JobHalted, JobRollingBack, JobCancelled, JobFailed},
	JobCompleted:   {JobRollingBack},
	JobHalted:      {JobRollingBack},
	JobRollingBack: {JobRolledBack, JobFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, t := range jobTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// JobSummary is the status-query view of a job.
type JobSummary struct {
	Job     Job                     `json:"job"`
	Devices []DeviceExecutionRecord `json:"devices"`
}
