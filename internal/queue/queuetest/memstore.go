// Package queuetest provides an in-memory queue.Store for tests.
package queuetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// MemStore is a mutex guarded in-memory job store. It enforces the same
// status transitions and claim semantics as the PostgreSQL store.
type MemStore struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	lastAt time.Time
	err    error
	claims int
}

var _ queue.Store = (*MemStore)(nil)

// NewMemStore creates an empty store
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]*domain.Job)}
}

// SetError makes every subsequent call fail with err until it is reset with nil.
func (m *MemStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetStartedAt rewrites the started_at of a job, used to age processing jobs.
func (m *MemStore) SetStartedAt(id string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.StartedAt = &t
	}
}

// Claims returns how many jobs ClaimNext handed out.
func (m *MemStore) Claims() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims
}

// Len returns the number of stored jobs
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *MemStore) Insert(_ context.Context, jobType domain.JobType, payload json.RawMessage, createdBy string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return clone(m.insert(jobType, payload, createdBy)), nil
}

func (m *MemStore) InsertUnique(_ context.Context, jobType domain.JobType, payload json.RawMessage, createdBy, key, value string) (*domain.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	if active := m.findActive(jobType, key, value); active != nil {
		return clone(active), false, nil
	}
	return clone(m.insert(jobType, payload, createdBy)), true, nil
}

func (m *MemStore) insert(jobType domain.JobType, payload json.RawMessage, createdBy string) *domain.Job {
	// Strictly increasing creation times keep FIFO order deterministic.
	now := time.Now().UTC()
	if !now.After(m.lastAt) {
		now = m.lastAt.Add(time.Microsecond)
	}
	m.lastAt = now

	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    domain.StatusPending,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job
	return job
}

func (m *MemStore) FindByID(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.NewJobNotFoundError(id)
	}
	return clone(job), nil
}

func (m *MemStore) FindByOwner(_ context.Context, ownerID string, jobType domain.JobType) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	jobs := m.filter(func(j *domain.Job) bool {
		return j.CreatedBy == ownerID && (jobType == "" || j.Type == jobType)
	})
	out := make([]*domain.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, clone(j))
	}
	return out, nil
}

func (m *MemStore) FindByOwnerPage(_ context.Context, q queue.OwnerQuery) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	jobs := m.filter(func(j *domain.Job) bool {
		if j.CreatedBy != q.OwnerID {
			return false
		}
		if (q.Type != "" && j.Type != q.Type) || (q.Status != "" && j.Status != q.Status) {
			return false
		}
		if q.After == nil {
			return true
		}
		return j.CreatedAt.After(q.After.CreatedAt) ||
			(j.CreatedAt.Equal(q.After.CreatedAt) && j.ID > q.After.ID)
	})
	out := make([]*domain.Job, 0, q.Limit)
	for _, j := range jobs {
		if len(out) == q.Limit {
			break
		}
		out = append(out, clone(j))
	}
	return out, nil
}

func (m *MemStore) UpdateStatus(_ context.Context, id string, status domain.Status, result json.RawMessage, errMsg *string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.NewJobNotFoundError(id)
	}
	if !domain.CanTransition(job.Status, status) {
		return nil, domain.ErrInvalidTransition
	}
	// jsonb and text columns reject NUL characters and invalid UTF-8.
	if result != nil && !domain.StorableJSON(result) {
		return nil, fmt.Errorf("%w: unsupported character in result", domain.ErrUnstorable)
	}
	if errMsg != nil && !domain.StorableText(*errMsg) {
		return nil, fmt.Errorf("%w: unsupported character in error message", domain.ErrUnstorable)
	}
	m.transition(job, status, result, errMsg)
	return clone(job), nil
}

func (m *MemStore) ClaimNext(_ context.Context, jobType domain.JobType) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	pending := m.filter(func(j *domain.Job) bool {
		return j.Type == jobType && j.Status == domain.StatusPending
	})
	if len(pending) == 0 {
		return nil, nil
	}
	job := pending[0]
	m.transition(job, domain.StatusProcessing, nil, nil)
	m.claims++
	return clone(job), nil
}

func (m *MemStore) FindActiveByCorrelation(_ context.Context, jobType domain.JobType, key, value string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if active := m.findActive(jobType, key, value); active != nil {
		return clone(active), nil
	}
	return nil, nil
}

func (m *MemStore) findActive(jobType domain.JobType, key, value string) *domain.Job {
	active := m.filter(func(j *domain.Job) bool {
		if j.Type != jobType || j.Status.IsTerminal() {
			return false
		}
		var fields map[string]any
		if err := json.Unmarshal(j.Payload, &fields); err != nil {
			return false
		}
		s, ok := fields[key].(string)
		return ok && s == value
	})
	if len(active) == 0 {
		return nil
	}
	return active[0]
}

func (m *MemStore) SweepStale(_ context.Context, maxAge time.Duration) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cutoff := time.Now().Add(-maxAge)
	stale := m.filter(func(j *domain.Job) bool {
		return j.Status == domain.StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff)
	})
	msg := domain.StaleJobMessage(maxAge)
	out := make([]*domain.Job, 0, len(stale))
	for _, job := range stale {
		m.transition(job, domain.StatusFailed, nil, &msg)
		out = append(out, clone(job))
	}
	return out, nil
}

func (m *MemStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.jobs[id]; !ok {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

func (m *MemStore) transition(job *domain.Job, status domain.Status, result json.RawMessage, errMsg *string) {
	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	if status == domain.StatusProcessing {
		job.StartedAt = &now
	}
	if status.IsTerminal() {
		job.CompletedAt = &now
	}
	if result != nil {
		job.Result = append(json.RawMessage(nil), result...)
	}
	if errMsg != nil {
		msg := *errMsg
		job.Error = &msg
	}
}

// filter returns matching jobs ordered by created_at, id.
func (m *MemStore) filter(match func(*domain.Job) bool) []*domain.Job {
	var out []*domain.Job
	for _, j := range m.jobs {
		if match(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

func clone(job *domain.Job) *domain.Job {
	c := *job
	if job.Payload != nil {
		c.Payload = append(json.RawMessage(nil), job.Payload...)
	}
	if job.Result != nil {
		c.Result = append(json.RawMessage(nil), job.Result...)
	}
	if job.Error != nil {
		msg := *job.Error
		c.Error = &msg
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		c.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
