package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// Store is the persistence the Service runs on. Implementations must make
// ClaimNext atomic across processes: two concurrent calls for the same type
// never return the same job.
//
// FindByID, UpdateStatus return an error matching domain.ErrJobNotFound for a
// missing id; UpdateStatus returns domain.ErrInvalidTransition when the row's
// current status does not allow the requested one, and domain.ErrUnstorable
// when the result or error text cannot be written. ClaimNext and
// FindActiveByCorrelation return (nil, nil) when nothing matches.
//
// InsertUnique is the atomic form of FindActiveByCorrelation followed by
// Insert: it returns the active job and false when one exists, otherwise the
// new job and true.
type Store interface {
	Insert(ctx context.Context, jobType domain.JobType, payload json.RawMessage, createdBy string) (*domain.Job, error)
	InsertUnique(ctx context.Context, jobType domain.JobType, payload json.RawMessage, createdBy, key, value string) (*domain.Job, bool, error)
	FindByID(ctx context.Context, id string) (*domain.Job, error)
	FindByOwner(ctx context.Context, ownerID string, jobType domain.JobType) ([]*domain.Job, error)
	FindByOwnerPage(ctx context.Context, q OwnerQuery) ([]*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, result json.RawMessage, errMsg *string) (*domain.Job, error)
	ClaimNext(ctx context.Context, jobType domain.JobType) (*domain.Job, error)
	FindActiveByCorrelation(ctx context.Context, jobType domain.JobType, key, value string) (*domain.Job, error)
	SweepStale(ctx context.Context, maxAge time.Duration) ([]*domain.Job, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// OwnerQuery selects one page of an owner's jobs in (created_at, id) order.
type OwnerQuery struct {
	OwnerID string
	Type    domain.JobType // empty matches every type
	Status  domain.Status  // empty matches every status
	After   *domain.Cursor // exclusive start position, nil for the first page
	Limit   int
}
