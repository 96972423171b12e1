package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// jobColumns is the column list every query returns, in jobRow order.
const jobColumns = `id, type, status, payload, result, error, created_by,
	created_at, updated_at, started_at, completed_at`

type jobRow struct {
	ID          string         `db:"id"`
	Type        string         `db:"type"`
	Status      string         `db:"status"`
	Payload     []byte         `db:"payload"`
	Result      []byte         `db:"result"`
	Error       sql.NullString `db:"error"`
	CreatedBy   string         `db:"created_by"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		ID:        r.ID,
		Type:      domain.JobType(r.Type),
		Status:    domain.Status(r.Status),
		Payload:   json.RawMessage(r.Payload),
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Result != nil {
		job.Result = json.RawMessage(r.Result)
	}
	if r.Error.Valid {
		msg := r.Error.String
		job.Error = &msg
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	return job
}

func toDomainList(rows []jobRow) []*domain.Job {
	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toDomain())
	}
	return jobs
}
