package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/ratelimit"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Queue  queue.Service
	// Limiter throttles job creation per owner; nil disables rate limiting.
	Limiter *ratelimit.TokenBucket
	// HealthCheck reports whether the job store is reachable.
	HealthCheck func(ctx context.Context) error
	// DBStats describes the database connection pool for the health report.
	DBStats func() string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	queue   queue.Service
	limiter *ratelimit.TokenBucket
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		queue:   deps.Queue,
		limiter: deps.Limiter,
	}
}
