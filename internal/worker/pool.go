package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// spawnWorkerPool starts concurrency poll loops for every job type
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.Int("job_types", len(w.jobTypes)),
		slog.String("worker_id", w.workerID),
	)

	for _, jobType := range w.jobTypes {
		for i := 0; i < w.concurrency; i++ {
			w.wg.Add(1)
			go w.pollLoop(ctx, jobType, i)
		}
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency*len(w.jobTypes)),
	)
}

// pollLoop claims and runs jobs of one type. A loop that just finished a job
// polls again immediately; an empty or failed poll waits pollInterval.
func (w *Worker) pollLoop(ctx context.Context, jobType domain.JobType, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%s-%d", w.workerID[:8], jobType, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for !w.stopping(ctx) {
		job, err := w.processJob(ctx, jobType)
		if err != nil {
			w.logger.Error("Failed to process next job",
				slog.String("worker_name", workerName),
				slog.String("job_type", string(jobType)),
				slog.Any("error", err),
			)
		}

		if err == nil && job != nil {
			continue
		}
		if !w.sleep(ctx, w.pollInterval) {
			break
		}
	}

	w.logger.Debug("Worker goroutine stopping",
		slog.String("worker_name", workerName),
	)
}
