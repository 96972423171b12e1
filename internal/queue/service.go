// Package queue implements the durable generation job queue: enqueueing,
// claim-and-execute orchestration, status lookups and the stale job sweep.
// All cross-process coordination is delegated to the Store's row locking.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// Service is the queue API consumed by the API service, the worker service and
// the admin CLI.
type Service interface {
	// Enqueue stores a new pending job.
	Enqueue(ctx context.Context, jobType domain.JobType, payload json.RawMessage, ownerID string) (*domain.Job, error)
	// EnqueueUnique stores a new pending job unless a pending or processing job
	// of jobType has the same string value in payload field key. The check and
	// the insert are atomic; the bool reports whether a job was created.
	EnqueueUnique(ctx context.Context, jobType domain.JobType, payload json.RawMessage, ownerID, key string) (*domain.Job, bool, error)
	// GetJob returns the job or an error matching domain.ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	// GetJobsByOwner lists an owner's jobs oldest first; an empty jobType matches every type.
	GetJobsByOwner(ctx context.Context, ownerID string, jobType domain.JobType) ([]*domain.Job, error)
	// ListJobs returns one page of an owner's jobs in creation order.
	ListJobs(ctx context.Context, q OwnerQuery) ([]*domain.Job, error)
	// ProcessNextJob claims the oldest pending job of jobType and runs handler on it.
	// It returns (nil, nil) when no job is pending.
	ProcessNextJob(ctx context.Context, jobType domain.JobType, handler Handler) (*domain.Job, error)
	// ProcessJobByID runs handler on a specific pending job. A job in any other
	// status is returned unchanged and the handler is not called.
	ProcessJobByID(ctx context.Context, id string, handler Handler) (*domain.Job, error)
	// FindPendingOrActive returns the oldest pending or processing job of jobType
	// whose payload field key equals value, or nil.
	FindPendingOrActive(ctx context.Context, jobType domain.JobType, key, value string) (*domain.Job, error)
	// FailStaleJobs fails every job that has been processing longer than maxAge.
	FailStaleJobs(ctx context.Context, maxAge time.Duration) ([]*domain.Job, error)
	// DeleteJob removes a job regardless of status.
	DeleteJob(ctx context.Context, id string) error
}

// Config holds the dependencies of the queue service
type Config struct {
	Store   Store
	Logger  *slog.Logger
	Metrics *Metrics
}

type service struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// NewService creates the queue service over cfg.Store
func NewService(cfg *Config) Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		store:   cfg.Store,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

func (s *service) Enqueue(ctx context.Context, jobType domain.JobType, payload json.RawMessage, ownerID string) (*domain.Job, error) {
	payload, err := validateEnqueue(jobType, payload, ownerID)
	if err != nil {
		return nil, err
	}

	job, err := s.store.Insert(ctx, jobType, payload, ownerID)
	if err != nil {
		return nil, s.storeErr("insert", err)
	}
	s.enqueued(job)

	return job, nil
}

func (s *service) EnqueueUnique(ctx context.Context, jobType domain.JobType, payload json.RawMessage, ownerID, key string) (*domain.Job, bool, error) {
	payload, err := validateEnqueue(jobType, payload, ownerID)
	if err != nil {
		return nil, false, err
	}
	value, ok := payloadField(payload, key)
	if !ok {
		return nil, false, fmt.Errorf("%w: dedupe key %q must name a string field of the payload", domain.ErrInvalidPayload, key)
	}

	job, created, err := s.store.InsertUnique(ctx, jobType, payload, ownerID, key, value)
	if err != nil {
		return nil, false, s.storeErr("insert", err)
	}
	if !created {
		s.logger.Debug("Active job found, enqueue skipped",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
			slog.String("key", key),
		)
		return job, false, nil
	}
	s.enqueued(job)

	return job, true, nil
}

func (s *service) enqueued(job *domain.Job) {
	s.metrics.enqueued(job.Type)

	s.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("created_by", job.CreatedBy),
	)
}

func validateEnqueue(jobType domain.JobType, payload json.RawMessage, ownerID string) (json.RawMessage, error) {
	if jobType == "" {
		return nil, fmt.Errorf("%w: job type is required", domain.ErrInvalidJob)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrInvalidJob)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return nil, domain.ErrInvalidPayload
	}
	if !domain.StorableJSON(payload) {
		return nil, fmt.Errorf("%w: payload contains a NUL character or invalid UTF-8", domain.ErrInvalidPayload)
	}
	return payload, nil
}

// payloadField extracts a top-level string field from a JSON object payload.
func payloadField(payload json.RawMessage, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", false
	}
	value, ok := fields[key].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func (s *service) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeErr("find", err)
	}
	return job, nil
}

func (s *service) GetJobsByOwner(ctx context.Context, ownerID string, jobType domain.JobType) ([]*domain.Job, error) {
	jobs, err := s.store.FindByOwner(ctx, ownerID, jobType)
	if err != nil {
		return nil, s.storeErr("list", err)
	}
	return jobs, nil
}

func (s *service) ListJobs(ctx context.Context, q OwnerQuery) ([]*domain.Job, error) {
	if q.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", domain.ErrInvalidQuery, q.Limit)
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidQuery, q.Status)
	}

	jobs, err := s.store.FindByOwnerPage(ctx, q)
	if err != nil {
		return nil, s.storeErr("list", err)
	}
	return jobs, nil
}

func (s *service) ProcessNextJob(ctx context.Context, jobType domain.JobType, handler Handler) (*domain.Job, error) {
	if handler == nil {
		return nil, errors.New("queue: nil handler")
	}

	job, err := s.store.ClaimNext(ctx, jobType)
	if err != nil {
		return nil, s.storeErr("claim", err)
	}
	if job == nil {
		return nil, nil
	}
	s.metrics.claimed(job.Type)

	s.logger.Info("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)

	return s.execute(ctx, job, handler)
}

func (s *service) ProcessJobByID(ctx context.Context, id string, handler Handler) (*domain.Job, error) {
	if handler == nil {
		return nil, errors.New("queue: nil handler")
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusPending {
		s.logger.Debug("Job is not pending, skipping",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return job, nil
	}

	claimed, err := s.store.UpdateStatus(ctx, id, domain.StatusProcessing, nil, nil)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Another worker claimed it between the read and the update.
		return s.GetJob(ctx, id)
	}
	if err != nil {
		return nil, s.storeErr("claim", err)
	}
	s.metrics.claimed(claimed.Type)

	s.logger.Info("Job claimed by id",
		slog.String("job_id", claimed.ID),
		slog.String("job_type", string(claimed.Type)),
	)

	return s.execute(ctx, claimed, handler)
}

// execute runs the handler on a claimed job and writes back the terminal status.
// Handler failures become job state; only store failures are returned.
func (s *service) execute(ctx context.Context, job *domain.Job, handler Handler) (*domain.Job, error) {
	start := time.Now()
	result, handlerErr := invoke(ctx, handler, job)
	if handlerErr == nil && len(result) > 0 {
		switch {
		case !json.Valid(result):
			handlerErr = errors.New("handler returned a result that is not valid JSON")
		case !domain.StorableJSON(result):
			handlerErr = errors.New("handler returned a result containing a NUL character or invalid UTF-8")
		}
	}

	// The job must leave processing even if the caller is shutting down.
	finalizeCtx := context.WithoutCancel(ctx)

	var (
		updated *domain.Job
		err     error
		reason  string
	)
	if handlerErr != nil {
		msg := domain.SanitizeText(failureMessage(handlerErr))
		reason = ReasonDefect
		var procErr *ProcessingError
		if errors.As(handlerErr, &procErr) {
			reason = ReasonProcessing
		}

		s.logger.Warn("Job execution failed",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
			slog.String("reason", reason),
			slog.String("error", msg),
		)

		updated, err = s.store.UpdateStatus(finalizeCtx, job.ID, domain.StatusFailed, nil, &msg)
	} else {
		updated, err = s.store.UpdateStatus(finalizeCtx, job.ID, domain.StatusCompleted, result, nil)
	}

	if errors.Is(err, domain.ErrUnstorable) {
		// The store rejected the outcome; record that instead so the job
		// does not stay processing until the sweep.
		msg := DefectPrefix + "job outcome could not be stored: " + domain.SanitizeText(err.Error())
		reason = ReasonDefect

		s.logger.Error("Job outcome rejected by store",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
			slog.Any("error", err),
		)

		updated, err = s.store.UpdateStatus(finalizeCtx, job.ID, domain.StatusFailed, nil, &msg)
	}

	if errors.Is(err, domain.ErrInvalidTransition) {
		// The stale sweep finalized the job while the handler was running.
		s.logger.Warn("Job already finalized, dropping handler outcome",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
		)
		current, getErr := s.store.FindByID(finalizeCtx, job.ID)
		if getErr != nil {
			return nil, s.storeErr("find", getErr)
		}
		return current, nil
	}
	if err != nil {
		return nil, s.storeErr("finalize", err)
	}

	s.metrics.finished(updated, reason, time.Since(start))

	s.logger.Info("Job finalized",
		slog.String("job_id", updated.ID),
		slog.String("job_type", string(updated.Type)),
		slog.String("status", string(updated.Status)),
		slog.Duration("took", time.Since(start)),
	)

	return updated, nil
}

// invoke calls the handler, converting a panic into an error.
func invoke(ctx context.Context, handler Handler, job *domain.Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &defectError{recovered: r}
		}
	}()
	return handler.Handle(ctx, job)
}

func (s *service) FindPendingOrActive(ctx context.Context, jobType domain.JobType, key, value string) (*domain.Job, error) {
	job, err := s.store.FindActiveByCorrelation(ctx, jobType, key, value)
	if err != nil {
		return nil, s.storeErr("correlate", err)
	}
	return job, nil
}

func (s *service) FailStaleJobs(ctx context.Context, maxAge time.Duration) ([]*domain.Job, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("stale job max age must be positive, got %s", maxAge)
	}

	jobs, err := s.store.SweepStale(ctx, maxAge)
	if err != nil {
		return nil, s.storeErr("sweep", err)
	}
	s.metrics.reaped(jobs)

	for _, job := range jobs {
		s.logger.Warn("Stale job failed",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
			slog.Duration("max_age", maxAge),
		)
	}

	return jobs, nil
}

func (s *service) DeleteJob(ctx context.Context, id string) error {
	found, err := s.store.Delete(ctx, id)
	if err != nil {
		return s.storeErr("delete", err)
	}
	if !found {
		return domain.NewJobNotFoundError(id)
	}

	s.logger.Info("Job deleted", slog.String("job_id", id))
	return nil
}

// storeErr passes domain errors through and wraps everything else as an
// infrastructure failure.
func (s *service) storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
		return err
	}
	s.logger.Error("Job store operation failed",
		slog.String("op", op),
		slog.Any("error", err),
	)
	return &InfrastructureError{Op: op, Err: err}
}
