package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal returns true once no further transition is expected for the job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusGenerating, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// JobKey identifies the single live row for a unit of generation work.
type JobKey struct {
	GenerationID string `json:"generation_id" yaml:"generation_id"`
	JobType      string `json:"job_type" yaml:"job_type"`
	TargetID     string `json:"target_id" yaml:"target_id"` // empty when the job has no target
}

// String is used as a map key and in log fields.
func (k JobKey) String() string {
	return k.GenerationID + "/" + k.JobType + "/" + k.TargetID
}

// GenerationJob is a tracked unit of backend work within a generation.
//
// Result is only set when the job completed and ErrorMessage only when it
// failed; store implementations clear one when writing the other.
type GenerationJob struct {
	ID           string          `json:"id"` // UUIDv7, stable across re-submissions of the same key
	GenerationID string          `json:"generation_id"`
	JobType      string          `json:"job_type"`
	TargetID     string          `json:"target_id"`
	Status       JobStatus       `json:"status"`
	Result       json.RawMessage `json:"result"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Key returns the composite key of the job.
func (j *GenerationJob) Key() JobKey {
	return JobKey{GenerationID: j.GenerationID, JobType: j.JobType, TargetID: j.TargetID}
}

// Clone returns a deep copy so callers can't mutate store-owned rows.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &c
}

// ChangeOp is the kind of row change carried by a JobChange.
type ChangeOp string

const (
	ChangeOpInsert ChangeOp = "INSERT"
	ChangeOpUpdate ChangeOp = "UPDATE"
)

// JobChange is a row-level change pushed to subscribers of a generation.
type JobChange struct {
	Op  ChangeOp      `json:"op"`
	Job GenerationJob `json:"job"`
}
