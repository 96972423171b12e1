// Package worker runs the generation job handlers against the queue: one poll
// loop per job type and concurrency slot, plus the stale job reaper.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/genqueue/internal/jobs"
	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Queue        queue.Service
	Handlers     jobs.Registry
	JobTypes     []domain.JobType // defaults to every registered type
	Notifier     *Notifier
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration // 0 disables the per-job deadline
	StaleAfter   time.Duration
	ReapInterval time.Duration // 0 disables the reaper
}

// Worker represents the background job worker
type Worker struct {
	workerID     string
	logger       *slog.Logger
	queue        queue.Service
	handlers     jobs.Registry
	jobTypes     []domain.JobType
	notifier     *Notifier
	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	staleAfter   time.Duration
	reapInterval time.Duration
	wg           sync.WaitGroup
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	jobTypes := cfg.JobTypes
	if len(jobTypes) == 0 {
		jobTypes = cfg.Handlers.Types()
	}
	for _, t := range jobTypes {
		if _, ok := cfg.Handlers.Handler(t); !ok {
			return nil, fmt.Errorf("no handler registered for job type %q", t)
		}
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("worker concurrency must be greater than 0")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("worker poll interval must be greater than 0")
	}
	if cfg.ReapInterval > 0 && cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("worker stale_after must be set when the reaper is enabled")
	}

	return &Worker{
		workerID:     uuid.NewString(),
		logger:       cfg.Logger,
		queue:        cfg.Queue,
		handlers:     cfg.Handlers,
		jobTypes:     jobTypes,
		notifier:     cfg.Notifier,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		jobTimeout:   cfg.JobTimeout,
		staleAfter:   cfg.StaleAfter,
		reapInterval: cfg.ReapInterval,
		stopChan:     make(chan struct{}),
	}, nil
}

// ID returns the identifier used in this worker's logs
func (w *Worker) ID() string {
	return w.workerID
}

// Start runs the poll loops and the reaper until ctx is canceled or Stop is
// called, then waits for in-flight jobs to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Any("job_types", w.jobTypes),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.spawnWorkerPool(ctx)

	if w.reapInterval > 0 {
		w.wg.Add(1)
		go w.reapLoop(ctx)
	}

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}

	w.wg.Wait()
	return nil
}

// Stop signals every loop to exit after its current job and waits for them
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// sleep waits for d, returning false if the worker is stopping.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.stopChan:
		return true
	default:
		return false
	}
}
