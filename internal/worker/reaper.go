package worker

import (
	"context"
	"log/slog"
	"time"
)

// reapLoop fails jobs stuck in processing every reapInterval
func (w *Worker) reapLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.reapInterval)
	defer ticker.Stop()

	w.logger.Info("Stale job reaper started",
		slog.Duration("interval", w.reapInterval),
		slog.Duration("stale_after", w.staleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.reap(ctx)
		}
	}
}

func (w *Worker) reap(ctx context.Context) {
	reaped, err := w.queue.FailStaleJobs(ctx, w.staleAfter)
	if err != nil {
		w.logger.Error("Stale job sweep failed", slog.Any("error", err))
		return
	}
	if len(reaped) == 0 {
		return
	}

	w.logger.Warn("Stale jobs failed",
		slog.Int("count", len(reaped)),
		slog.Duration("stale_after", w.staleAfter),
	)
	for _, job := range reaped {
		w.notifier.Notify(ctx, job)
	}
}
