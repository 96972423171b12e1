package queue

import (
	"context"
	"encoding/json"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// Handler performs the work of a claimed job. The job it receives is already
// in processing status with StartedAt set; the handler must not change the
// status itself. A returned *ProcessingError fails the job with its message,
// any other error or a panic fails it as an unexpected defect.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, job *domain.Job) (json.RawMessage, error)

// Handle calls f(ctx, job).
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	return f(ctx, job)
}
