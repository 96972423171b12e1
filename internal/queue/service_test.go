package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/queue/domain"
	"github.com/cuongbtq/genqueue/internal/queue/queuetest"
)

func newService(t *testing.T) (queue.Service, *queuetest.MemStore) {
	t.Helper()
	store := queuetest.NewMemStore()
	return queue.NewService(&queue.Config{Store: store}), store
}

func resultHandler(result string) queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		return json.RawMessage(result), nil
	})
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		jobType     domain.JobType
		payload     json.RawMessage
		owner       string
		wantErr     error
		wantPayload string
	}{
		{
			name:        "stores pending job",
			jobType:     domain.JobTypeGenerateScript,
			payload:     json.RawMessage(`{"podcastId":"p1"}`),
			owner:       "user-1",
			wantPayload: `{"podcastId":"p1"}`,
		},
		{
			name:        "empty payload becomes empty object",
			jobType:     domain.JobTypeGenerateAudio,
			owner:       "user-1",
			wantPayload: `{}`,
		},
		{
			name:    "malformed payload",
			jobType: domain.JobTypeGenerateAudio,
			payload: json.RawMessage(`{"podcastId":`),
			owner:   "user-1",
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "payload with nul character",
			jobType: domain.JobTypeGenerateScript,
			payload: json.RawMessage(`{"topic":"a\u0000b"}`),
			owner:   "user-1",
			wantErr: domain.ErrInvalidPayload,
		},
		{
			name:    "missing type",
			payload: json.RawMessage(`{}`),
			owner:   "user-1",
			wantErr: domain.ErrInvalidJob,
		},
		{
			name:    "missing owner",
			jobType: domain.JobTypeGenerateAvatar,
			payload: json.RawMessage(`{}`),
			wantErr: domain.ErrInvalidJob,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService(t)

			job, err := svc.Enqueue(ctx, tt.jobType, tt.payload, tt.owner)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, job)
				assert.Equal(t, 0, store.Len())
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, job.ID)
			assert.Equal(t, tt.jobType, job.Type)
			assert.Equal(t, domain.StatusPending, job.Status)
			assert.JSONEq(t, tt.wantPayload, string(job.Payload))
			assert.Nil(t, job.Result)
			assert.Nil(t, job.Error)
			assert.Nil(t, job.StartedAt)
			assert.Nil(t, job.CompletedAt)
			assert.Equal(t, tt.owner, job.CreatedBy)
		})
	}
}

func TestGetJob(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	created, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, json.RawMessage(`{"topic":"go"}`), "user-1")
	require.NoError(t, err)

	got, err := svc.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.JSONEq(t, `{"topic":"go"}`, string(got.Payload))

	_, err = svc.GetJob(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
	var notFound *domain.JobNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", notFound.JobID)
	assert.False(t, queue.IsInfrastructure(err))
}

func TestGetJobsByOwner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	first, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "owner-a")
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, domain.JobTypeGenerateAudio, nil, "owner-a")
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "owner-b")
	require.NoError(t, err)

	all, err := svc.GetJobsByOwner(ctx, "owner-a", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	audio, err := svc.GetJobsByOwner(ctx, "owner-a", domain.JobTypeGenerateAudio)
	require.NoError(t, err)
	require.Len(t, audio, 1)
	assert.Equal(t, second.ID, audio[0].ID)

	none, err := svc.GetJobsByOwner(ctx, "owner-c", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestProcessNextJob_NothingPending(t *testing.T) {
	svc, _ := newService(t)

	called := false
	job, err := svc.ProcessNextJob(context.Background(), domain.JobTypeGenerateScript,
		queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
			called = true
			return nil, nil
		}))

	require.NoError(t, err)
	assert.Nil(t, job)
	assert.False(t, called)
}

func TestProcessNextJob_Completes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	created, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, json.RawMessage(`{"podcastId":"p1"}`), "user-1")
	require.NoError(t, err)

	var seen *domain.Job
	job, err := svc.ProcessNextJob(ctx, domain.JobTypeGenerateScript,
		queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
			seen = job
			return json.RawMessage(`{"scriptId":"s1"}`), nil
		}))

	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, created.ID, seen.ID)
	assert.Equal(t, domain.StatusProcessing, seen.Status)
	assert.NotNil(t, seen.StartedAt)

	assert.Equal(t, created.ID, job.ID)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.JSONEq(t, `{"scriptId":"s1"}`, string(job.Result))
	assert.Nil(t, job.Error)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	assert.False(t, job.CompletedAt.Before(*job.StartedAt))

	stored, err := svc.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestProcessNextJob_FIFOPerType(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := svc.Enqueue(ctx, domain.JobTypeGenerateAudio, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)), "user-1")
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	other, err := svc.Enqueue(ctx, domain.JobTypeGenerateAvatar, nil, "user-1")
	require.NoError(t, err)

	for _, want := range ids {
		job, err := svc.ProcessNextJob(ctx, domain.JobTypeGenerateAudio, resultHandler(`{}`))
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
	}

	job, err := svc.ProcessNextJob(ctx, domain.JobTypeGenerateAudio, resultHandler(`{}`))
	require.NoError(t, err)
	assert.Nil(t, job)

	untouched, err := svc.GetJob(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, untouched.Status)
}

func TestProcessNextJob_HandlerFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler queue.HandlerFunc
		wantErr string
	}{
		{
			name: "declared processing error",
			handler: func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
				return nil, queue.NewProcessingError("voice %q is not available", "nova")
			},
			wantErr: `voice "nova" is not available`,
		},
		{
			name: "wrapped processing error",
			handler: func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
				return nil, fmt.Errorf("render: %w", queue.WrapProcessingError(errors.New("quota exceeded"), "tts provider rejected request"))
			},
			wantErr: "tts provider rejected request: quota exceeded",
		},
		{
			name: "plain error is a defect",
			handler: func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
				return nil, errors.New("boom")
			},
			wantErr: "unexpected defect: boom",
		},
		{
			name: "panic is a defect",
			handler: func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
				panic("kaboom")
			},
			wantErr: "unexpected defect: panic: kaboom",
		},
		{
			name: "invalid result json is a defect",
			handler: func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
				return json.RawMessage(`{not json`), nil
			},
			wantErr: "unexpected defect: handler returned a result that is not valid JSON",
		},
		{
			name: "empty processing error",
			handler: func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
				return nil, &queue.ProcessingError{Err: errors.New("")}
			},
			wantErr: "processing failed",
		},
		{
			name: "result with nul character is a defect",
			handler: func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
				return json.RawMessage(`{"script":"a\u0000b"}`), nil
			},
			wantErr: "unexpected defect: handler returned a result containing a NUL character or invalid UTF-8",
		},
		{
			name: "unstorable error text is cleaned",
			handler: func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
				return nil, queue.NewProcessingError("bad\x00output\xff")
			},
			wantErr: "badoutput\uFFFD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, _ := newService(t)

			created, err := svc.Enqueue(ctx, domain.JobTypeGenerateAudio, nil, "user-1")
			require.NoError(t, err)

			job, err := svc.ProcessNextJob(ctx, domain.JobTypeGenerateAudio, tt.handler)

			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, created.ID, job.ID)
			assert.Equal(t, domain.StatusFailed, job.Status)
			assert.Equal(t, tt.wantErr, job.ErrorMessage())
			assert.Nil(t, job.Result)
			assert.NotNil(t, job.CompletedAt)
		})
	}
}

func TestProcessJobByID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	created, err := svc.Enqueue(ctx, domain.JobTypeGenerateAvatar, nil, "user-1")
	require.NoError(t, err)

	job, err := svc.ProcessJobByID(ctx, created.ID, resultHandler(`{"videoUrl":"v"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)

	t.Run("terminal job is a no-op", func(t *testing.T) {
		called := false
		again, err := svc.ProcessJobByID(ctx, created.ID,
			queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
				called = true
				return json.RawMessage(`{}`), nil
			}))

		require.NoError(t, err)
		assert.False(t, called)
		assert.Equal(t, job.Status, again.Status)
		assert.Equal(t, job.UpdatedAt, again.UpdatedAt)
		assert.JSONEq(t, `{"videoUrl":"v"}`, string(again.Result))
	})

	t.Run("processing job is a no-op", func(t *testing.T) {
		svc, store := newService(t)
		created, err := svc.Enqueue(ctx, domain.JobTypeGenerateAvatar, nil, "user-1")
		require.NoError(t, err)
		_, err = store.ClaimNext(ctx, domain.JobTypeGenerateAvatar)
		require.NoError(t, err)

		got, err := svc.ProcessJobByID(ctx, created.ID, resultHandler(`{}`))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusProcessing, got.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.ProcessJobByID(ctx, "missing", resultHandler(`{}`))
		require.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestProcessNextJob_NoDoubleClaim(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	const jobs = 50
	for i := 0; i < jobs; i++ {
		_, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-1")
		require.NoError(t, err)
	}

	var (
		calls sync.Map
		total atomic.Int64
		wg    sync.WaitGroup
	)
	handler := queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		n, _ := calls.LoadOrStore(job.ID, new(atomic.Int64))
		n.(*atomic.Int64).Add(1)
		total.Add(1)
		return json.RawMessage(`{}`), nil
	})

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := svc.ProcessNextJob(ctx, domain.JobTypeGenerateScript, handler)
				if err != nil || job == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(jobs), total.Load())
	assert.Equal(t, jobs, store.Claims())
	calls.Range(func(key, value any) bool {
		assert.Equal(t, int64(1), value.(*atomic.Int64).Load(), "job %s", key)
		return true
	})
}

func TestFailStaleJobs(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	stale, err := svc.Enqueue(ctx, domain.JobTypeGenerateAudio, nil, "user-1")
	require.NoError(t, err)
	fresh, err := svc.Enqueue(ctx, domain.JobTypeGenerateAudio, nil, "user-1")
	require.NoError(t, err)
	pending, err := svc.Enqueue(ctx, domain.JobTypeGenerateAudio, nil, "user-1")
	require.NoError(t, err)

	_, err = store.ClaimNext(ctx, domain.JobTypeGenerateAudio)
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, domain.JobTypeGenerateAudio)
	require.NoError(t, err)
	store.SetStartedAt(stale.ID, time.Now().Add(-2*time.Hour))

	reaped, err := svc.FailStaleJobs(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, stale.ID, reaped[0].ID)
	assert.Equal(t, domain.StatusFailed, reaped[0].Status)
	assert.Equal(t, "job timed out: processing exceeded 1h0m0s", reaped[0].ErrorMessage())
	assert.NotNil(t, reaped[0].CompletedAt)

	got, err := svc.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)

	got, err = svc.GetJob(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	again, err := svc.FailStaleJobs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = svc.FailStaleJobs(ctx, 0)
	require.Error(t, err)
}

func TestProcessNextJob_ReapedWhileRunning(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	created, err := svc.Enqueue(ctx, domain.JobTypeGenerateAvatar, nil, "user-1")
	require.NoError(t, err)

	job, err := svc.ProcessNextJob(ctx, domain.JobTypeGenerateAvatar,
		queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
			store.SetStartedAt(job.ID, time.Now().Add(-time.Hour))
			reaped, err := svc.FailStaleJobs(ctx, time.Minute)
			if err != nil || len(reaped) != 1 {
				return nil, fmt.Errorf("sweep did not reap job: %v", err)
			}
			return json.RawMessage(`{"videoUrl":"late"}`), nil
		}))

	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, created.ID, job.ID)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, "job timed out: processing exceeded 1m0s", job.ErrorMessage())
	assert.Nil(t, job.Result)
}

// cancelAwareStore fails writes made with a canceled context, like a real driver.
type cancelAwareStore struct {
	*queuetest.MemStore
}

func (s cancelAwareStore) UpdateStatus(ctx context.Context, id string, status domain.Status, result json.RawMessage, errMsg *string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemStore.UpdateStatus(ctx, id, status, result, errMsg)
}

func TestProcessNextJob_FinalizesAfterCancel(t *testing.T) {
	store := cancelAwareStore{queuetest.NewMemStore()}
	svc := queue.NewService(&queue.Config{Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-1")
	require.NoError(t, err)

	job, err := svc.ProcessNextJob(ctx, domain.JobTypeGenerateScript,
		queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
			cancel()
			return json.RawMessage(`{"scriptId":"s1"}`), nil
		}))

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
}

// rejectingStore refuses to store completed results, like a column constraint
// the handler output violates.
type rejectingStore struct {
	*queuetest.MemStore
}

func (s rejectingStore) UpdateStatus(ctx context.Context, id string, status domain.Status, result json.RawMessage, errMsg *string) (*domain.Job, error) {
	if status == domain.StatusCompleted {
		return nil, fmt.Errorf("%w: invalid byte sequence for encoding", domain.ErrUnstorable)
	}
	return s.MemStore.UpdateStatus(ctx, id, status, result, errMsg)
}

func TestProcessNextJob_OutcomeRejectedByStore(t *testing.T) {
	ctx := context.Background()
	store := rejectingStore{queuetest.NewMemStore()}
	svc := queue.NewService(&queue.Config{Store: store})

	created, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-1")
	require.NoError(t, err)

	job, err := svc.ProcessNextJob(ctx, domain.JobTypeGenerateScript, resultHandler(`{"script":"ok"}`))

	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, created.ID, job.ID)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t,
		"unexpected defect: job outcome could not be stored: value cannot be stored: invalid byte sequence for encoding",
		job.ErrorMessage())
	assert.Nil(t, job.Result)
}

func TestInfrastructureErrors(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	store.SetError(errors.New("connection refused"))

	_, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-1")
	require.Error(t, err)
	assert.True(t, queue.IsInfrastructure(err))

	called := false
	_, err = svc.ProcessNextJob(ctx, domain.JobTypeGenerateScript,
		queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
			called = true
			return nil, nil
		}))
	var infraErr *queue.InfrastructureError
	require.ErrorAs(t, err, &infraErr)
	assert.Equal(t, "claim", infraErr.Op)
	assert.False(t, called)

	_, err = svc.FailStaleJobs(ctx, time.Minute)
	assert.True(t, queue.IsInfrastructure(err))
}

func TestFindPendingOrActive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	done, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, json.RawMessage(`{"podcastId":"p1"}`), "user-1")
	require.NoError(t, err)
	_, err = svc.ProcessJobByID(ctx, done.ID, resultHandler(`{}`))
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, domain.JobTypeGenerateAudio, json.RawMessage(`{"podcastId":"p1"}`), "user-1")
	require.NoError(t, err)

	got, err := svc.FindPendingOrActive(ctx, domain.JobTypeGenerateScript, "podcastId", "p1")
	require.NoError(t, err)
	assert.Nil(t, got)

	active, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, json.RawMessage(`{"podcastId":"p1"}`), "user-1")
	require.NoError(t, err)

	got, err = svc.FindPendingOrActive(ctx, domain.JobTypeGenerateScript, "podcastId", "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, active.ID, got.ID)

	got, err = svc.FindPendingOrActive(ctx, domain.JobTypeGenerateScript, "podcastId", "p2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnqueueUnique(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	payload := json.RawMessage(`{"podcastId":"p1"}`)

	const callers = 10
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, ok, err := svc.EnqueueUnique(ctx, domain.JobTypeGenerateScript, payload, "user-1", "podcastId")
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				created.Add(1)
			}
			ids.Store(job.ID, true)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, 1, store.Len())

	first, err := svc.FindPendingOrActive(ctx, domain.JobTypeGenerateScript, "podcastId", "p1")
	require.NoError(t, err)
	_, err = svc.ProcessJobByID(ctx, first.ID, resultHandler(`{}`))
	require.NoError(t, err)

	next, ok, err := svc.EnqueueUnique(ctx, domain.JobTypeGenerateScript, payload, "user-1", "podcastId")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, first.ID, next.ID)

	tests := []struct {
		name    string
		payload json.RawMessage
		key     string
	}{
		{name: "missing field", payload: json.RawMessage(`{"topic":"go"}`), key: "podcastId"},
		{name: "non string field", payload: json.RawMessage(`{"podcastId":7}`), key: "podcastId"},
		{name: "empty key", payload: payload, key: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.EnqueueUnique(ctx, domain.JobTypeGenerateScript, tt.payload, "user-1", tt.key)
			assert.ErrorIs(t, err, domain.ErrInvalidPayload)
		})
	}
}

func TestListJobs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	var want []string
	for i := 0; i < 5; i++ {
		job, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-1")
		require.NoError(t, err)
		want = append(want, job.ID)
	}
	_, err := svc.Enqueue(ctx, domain.JobTypeGenerateAudio, nil, "user-1")
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-2")
	require.NoError(t, err)

	var (
		got   []string
		after *domain.Cursor
	)
	for {
		page, err := svc.ListJobs(ctx, queue.OwnerQuery{
			OwnerID: "user-1",
			Type:    domain.JobTypeGenerateScript,
			After:   after,
			Limit:   2,
		})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, job := range page {
			got = append(got, job.ID)
		}
		last := page[len(page)-1]
		after = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	assert.Equal(t, want, got)

	_, err = svc.ProcessNextJob(ctx, domain.JobTypeGenerateScript, resultHandler(`{}`))
	require.NoError(t, err)
	completed, err := svc.ListJobs(ctx, queue.OwnerQuery{OwnerID: "user-1", Status: domain.StatusCompleted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, want[0], completed[0].ID)

	invalid := []struct {
		name  string
		query queue.OwnerQuery
	}{
		{name: "missing owner", query: queue.OwnerQuery{Limit: 1}},
		{name: "zero limit", query: queue.OwnerQuery{OwnerID: "user-1"}},
		{name: "unknown status", query: queue.OwnerQuery{OwnerID: "user-1", Status: "canceled", Limit: 1}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ListJobs(ctx, tt.query)
			assert.ErrorIs(t, err, domain.ErrInvalidQuery)
		})
	}
}

func TestDeleteJob(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	created, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteJob(ctx, created.ID))

	_, err = svc.GetJob(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrJobNotFound)

	err = svc.DeleteJob(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := queue.NewMetrics(reg)
	store := queuetest.NewMemStore()
	svc := queue.NewService(&queue.Config{Store: store, Metrics: metrics})

	for i := 0; i < 3; i++ {
		_, err := svc.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-1")
		require.NoError(t, err)
	}

	_, err := svc.ProcessNextJob(ctx, domain.JobTypeGenerateScript, resultHandler(`{}`))
	require.NoError(t, err)
	_, err = svc.ProcessNextJob(ctx, domain.JobTypeGenerateScript,
		queue.HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
			return nil, errors.New("boom")
		}))
	require.NoError(t, err)

	stuck, err := store.ClaimNext(ctx, domain.JobTypeGenerateScript)
	require.NoError(t, err)
	store.SetStartedAt(stuck.ID, time.Now().Add(-time.Hour))
	_, err = svc.FailStaleJobs(ctx, time.Minute)
	require.NoError(t, err)

	script := string(domain.JobTypeGenerateScript)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Enqueued.WithLabelValues(script)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Claimed.WithLabelValues(script)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Completed.WithLabelValues(script)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failed.WithLabelValues(script, queue.ReasonDefect)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failed.WithLabelValues(script, queue.ReasonStale)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Failed.WithLabelValues(script, queue.ReasonProcessing)))
}
