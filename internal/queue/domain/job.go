package domain

import (
	"encoding/json"
	"time"
)

// Job is a single unit of generation work persisted in the jobs table.
// Payload and Result are opaque JSON documents; only job-type specific code
// interprets them.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      Status          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result"`
	Error       *string         `json:"error"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at"`
}

// Cursor is a keyset position in (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// ErrorMessage returns the stored failure description, or "" when there is none.
func (j *Job) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// JobEvent is published once a job reaches a terminal state.
type JobEvent struct {
	Event       string    `json:"event"`
	JobID       string    `json:"job_id"`
	JobType     JobType   `json:"job_type"`
	Status      Status    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// EventJobFinished is the event name for terminal transitions.
const EventJobFinished = "job.finished"

// NewFinishedEvent builds the completion event for a terminal job.
func NewFinishedEvent(job *Job) JobEvent {
	ev := JobEvent{
		Event:     EventJobFinished,
		JobID:     job.ID,
		JobType:   job.Type,
		Status:    job.Status,
		CreatedBy: job.CreatedBy,
		Error:     job.ErrorMessage(),
	}
	if job.CompletedAt != nil {
		ev.CompletedAt = *job.CompletedAt
	} else {
		ev.CompletedAt = job.UpdatedAt
	}
	return ev
}

// StaleJobMessage is the error stamped on jobs failed by the stale sweep.
func StaleJobMessage(maxAge time.Duration) string {
	return "job timed out: processing exceeded " + maxAge.String()
}
