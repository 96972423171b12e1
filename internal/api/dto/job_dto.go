package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

type CreateJobRequest struct {
	Type      string          `json:"type" binding:"required"`
	OwnerID   string          `json:"owner_id" binding:"required"`
	Payload   json.RawMessage `json:"payload"`
	DedupeKey string          `json:"dedupe_key"`
}

type ListJobsRequest struct {
	OwnerID  string `form:"owner_id" binding:"required"`
	Type     string `form:"type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ActiveJobRequest struct {
	Key   string `form:"key" binding:"required"`
	Value string `form:"value" binding:"required"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type SweepResponse struct {
	MaxAge string   `json:"max_age"`
	Count  int      `json:"count"`
	Jobs   []JobDTO `json:"jobs"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	OwnerID     string          `json:"owner_id"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

// NewJobDTO converts a queue job into its API representation
func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:     job.ID,
		Type:      string(job.Type),
		Status:    string(job.Status),
		OwnerID:   job.CreatedBy,
		Payload:   job.Payload,
		Result:    job.Result,
		Error:     job.ErrorMessage(),
		CreatedAt: job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339Nano)
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339Nano)
	}
	return out
}

func NewJobDTOList(jobs []*domain.Job) []JobDTO {
	out := make([]JobDTO, len(jobs))
	for i, job := range jobs {
		out[i] = NewJobDTO(job)
	}
	return out
}
