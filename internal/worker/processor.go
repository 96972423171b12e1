package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// processJob claims and executes the next pending job of jobType under the
// per-job timeout, then publishes its completion event. It returns nil when
// no job was pending.
func (w *Worker) processJob(ctx context.Context, jobType domain.JobType) (*domain.Job, error) {
	handler, _ := w.handlers.Handler(jobType)

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	job, err := w.queue.ProcessNextJob(jobCtx, jobType, handler)
	if err != nil || job == nil {
		return nil, err
	}

	w.logger.Info("Job processed",
		slog.String("worker_id", w.workerID),
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("status", string(job.Status)),
	)

	if job.Status.IsTerminal() {
		w.notifier.Notify(ctx, job)
	}

	return job, nil
}
