package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/genqueue/internal/api/dto"
	"github.com/cuongbtq/genqueue/internal/jobs"
	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Enqueues a new job, or returns the active job already covering the same
// dedupe key value.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobType := domain.JobType(req.Type)
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}
	if err := jobs.ValidatePayload(jobType, req.Payload); err != nil {
		h.logger.Warn("Rejected job payload",
			slog.String("job_type", req.Type),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if !h.allow(c, req.OwnerID) {
		return
	}

	ctx := c.Request.Context()

	if req.DedupeKey != "" {
		job, created, err := h.queue.EnqueueUnique(ctx, jobType, req.Payload, req.OwnerID, req.DedupeKey)
		if err != nil {
			h.respondError(c, "Failed to create job", err)
			return
		}
		if !created {
			h.logger.Info("Returning active job for dedupe key",
				slog.String("job_id", job.ID),
				slog.String("dedupe_key", req.DedupeKey),
			)
			c.JSON(http.StatusOK, dto.NewJobDTO(job))
			return
		}
		h.created(c, job)
		return
	}

	job, err := h.queue.Enqueue(ctx, jobType, req.Payload, req.OwnerID)
	if err != nil {
		h.respondError(c, "Failed to create job", err)
		return
	}
	h.created(c, job)
}

func (h *JobHandler) created(c *gin.Context, job *domain.Job) {
	h.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("owner_id", job.CreatedBy),
	)

	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.queue.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists an owner's jobs oldest first, optionally filtered by type and status.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "owner_id is required",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// Fetch one extra row to learn whether another page follows.
	jobs, err := h.queue.ListJobs(c.Request.Context(), queue.OwnerQuery{
		OwnerID: req.OwnerID,
		Type:    domain.JobType(req.Type),
		Status:  domain.Status(req.Status),
		After:   cursor.position(),
		Limit:   req.PageSize + 1,
	})
	if err != nil {
		h.respondError(c, "Failed to list jobs", err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       dto.NewJobDTOList(jobs),
		NextCursor: nextCursor,
	})
}

// GetActiveJob handles GET /api/v1/types/:job_type/active
// Returns the oldest pending or processing job whose payload field key equals value.
func (h *JobHandler) GetActiveJob(c *gin.Context) {
	jobType := domain.JobType(c.Param("job_type"))

	var req dto.ActiveJobRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "key and value are required",
		})
		return
	}

	job, err := h.queue.FindPendingOrActive(c.Request.Context(), jobType, req.Key, req.Value)
	if err != nil {
		h.respondError(c, "Failed to find active job", err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no active job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Permanently deletes a job record regardless of its status
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.queue.DeleteJob(c.Request.Context(), jobID); err != nil {
		h.respondError(c, "Failed to delete job", err)
		return
	}

	h.logger.Info("Job deleted", slog.String("job_id", jobID))
	c.Status(http.StatusNoContent)
}

// SweepStaleJobs handles POST /api/v1/maintenance/sweep
// Fails every job processing for longer than max_age
func (h *JobHandler) SweepStaleJobs(c *gin.Context) {
	maxAge, err := time.ParseDuration(c.Query("max_age"))
	if err != nil || maxAge <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "max_age must be a positive duration such as 30m",
		})
		return
	}

	reaped, err := h.queue.FailStaleJobs(c.Request.Context(), maxAge)
	if err != nil {
		h.respondError(c, "Failed to sweep stale jobs", err)
		return
	}

	h.logger.Info("Stale job sweep finished",
		slog.Duration("max_age", maxAge),
		slog.Int("count", len(reaped)),
	)

	c.JSON(http.StatusOK, dto.SweepResponse{
		MaxAge: maxAge.String(),
		Count:  len(reaped),
		Jobs:   dto.NewJobDTOList(reaped),
	})
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

// allow applies the per-owner rate limit. Limiter failures let the request
// through.
func (h *JobHandler) allow(c *gin.Context, ownerID string) bool {
	if h.limiter == nil {
		return true
	}

	allowed, remaining, err := h.limiter.Allow(c.Request.Context(), ownerID)
	if err != nil {
		h.logger.Error("Rate limiter unavailable", slog.String("error", err.Error()))
		return true
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(h.limiter.Capacity()))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	if !allowed {
		h.logger.Warn("Rate limit exceeded", slog.String("owner_id", ownerID))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
		})
		return false
	}
	return true
}

func (h *JobHandler) respondError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrInvalidJob), errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": msg,
		})
	}
}
