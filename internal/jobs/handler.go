package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// TypedFunc handles a job whose payload has been decoded into P.
type TypedFunc[P, R any] func(ctx context.Context, job *domain.Job, payload P) (R, error)

// Typed adapts fn to queue.Handler. A payload that does not decode or
// validate fails the job with a processing error; the result is JSON encoded.
func Typed[P, R any](fn TypedFunc[P, R]) queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		payload, err := decode[P](job.Payload)
		if err != nil {
			return nil, queue.WrapProcessingError(err, "invalid payload")
		}

		result, err := fn(ctx, job, payload)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return data, nil
	})
}

// Registry maps job types to their handlers.
type Registry map[domain.JobType]queue.Handler

// Register binds handler to jobType, replacing any previous handler.
func (r Registry) Register(jobType domain.JobType, handler queue.Handler) {
	r[jobType] = handler
}

// Handler returns the handler registered for jobType.
func (r Registry) Handler(jobType domain.JobType) (queue.Handler, bool) {
	h, ok := r[jobType]
	return h, ok
}

// Types returns the registered job types in sorted order.
func (r Registry) Types() []domain.JobType {
	types := make([]domain.JobType, 0, len(r))
	for t := range r {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
