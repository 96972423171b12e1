package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// Failure reasons used as the "reason" label of jobs_failed_total.
const (
	ReasonProcessing = "processing"
	ReasonDefect     = "defect"
	ReasonStale      = "stale"
)

// Metrics holds the queue's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Enqueued  *prometheus.CounterVec
	Claimed   *prometheus.CounterVec
	Completed *prometheus.CounterVec
	Failed    *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Jobs inserted in pending status",
		}, []string{"type"}),
		Claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_claimed_total",
			Help: "Jobs moved from pending to processing",
		}, []string{"type"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Jobs finished successfully",
		}, []string{"type"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Jobs finalized as failed",
		}, []string{"type", "reason"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_processing_seconds",
			Help:    "Handler run time of claimed jobs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"type", "status"}),
	}
	reg.MustRegister(m.Enqueued, m.Claimed, m.Completed, m.Failed, m.Duration)
	return m
}

func (m *Metrics) enqueued(jobType domain.JobType) {
	if m == nil {
		return
	}
	m.Enqueued.WithLabelValues(string(jobType)).Inc()
}

func (m *Metrics) claimed(jobType domain.JobType) {
	if m == nil {
		return
	}
	m.Claimed.WithLabelValues(string(jobType)).Inc()
}

func (m *Metrics) finished(job *domain.Job, reason string, took time.Duration) {
	if m == nil {
		return
	}
	if job.Status == domain.StatusCompleted {
		m.Completed.WithLabelValues(string(job.Type)).Inc()
	} else {
		m.Failed.WithLabelValues(string(job.Type), reason).Inc()
	}
	m.Duration.WithLabelValues(string(job.Type), string(job.Status)).Observe(took.Seconds())
}

func (m *Metrics) reaped(jobs []*domain.Job) {
	if m == nil {
		return
	}
	for _, job := range jobs {
		m.Failed.WithLabelValues(string(job.Type), ReasonStale).Inc()
	}
}
