package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

const publishTimeout = 5 * time.Second

// Publisher sends an event to the message broker. *rabbitmq.Client
// implements it.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// Notifier publishes a job.finished event for every terminal job. A nil
// Notifier or one without a publisher does nothing.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewNotifier creates a notifier over publisher
func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

// Notify publishes the completion event of job. Failures are logged: the job
// row is the source of truth and events are best effort.
func (n *Notifier) Notify(ctx context.Context, job *domain.Job) {
	if n == nil || n.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := domain.NewFinishedEvent(job)
	if err := n.publisher.PublishJSON(pubCtx, "", event); err != nil {
		n.logger.Error("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("event", event.Event),
			slog.Any("error", err),
		)
		return
	}

	n.logger.Debug("Job event published",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
}
