package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/genqueue/internal/jobs"
	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/queue/domain"
	"github.com/cuongbtq/genqueue/internal/queue/queuetest"
)

type testBackend struct {
	store      *queuetest.MemStore
	queue      queue.Service
	handlers   jobs.Registry
	migrations []bool
	closed     bool
	configPath string
}

func newTestBackend() *testBackend {
	store := queuetest.NewMemStore()
	return &testBackend{
		store: store,
		queue: queue.NewService(&queue.Config{
			Store:  store,
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		}),
	}
}

func (b *testBackend) open(configPath string) (*Backend, error) {
	b.configPath = configPath
	return &Backend{
		Queue:    b.queue,
		Handlers: b.handlers,
		Migrate: func(down bool) error {
			b.migrations = append(b.migrations, down)
			return nil
		},
		Close: func() { b.closed = true },
	}, nil
}

func execute(t *testing.T, b *testBackend, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(b.open)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueueAndGet(t *testing.T) {
	b := newTestBackend()

	out, err := execute(t, b, "enqueue", "-t", "generate-script", "-o", "user-1",
		"-p", `{"podcastId":"p-1","topic":"queues"}`)
	require.NoError(t, err)
	assert.True(t, b.closed)
	assert.Equal(t, defaultConfigPath, b.configPath)

	var created domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, "user-1", created.CreatedBy)

	out, err = execute(t, b, "get", created.ID)
	require.NoError(t, err)
	var fetched domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	_, err = execute(t, b, "get", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
}

func TestEnqueue_Errors(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantErr    string
		wantClosed bool
	}{
		{
			name:    "missing owner",
			args:    []string{"enqueue", "-t", "generate-script"},
			wantErr: `required flag(s) "owner" not set`,
		},
		{
			name:       "invalid payload",
			args:       []string{"enqueue", "-t", "generate-script", "-o", "user-1", "-p", `{"topic":"x"}`},
			wantErr:    "podcastId is required",
			wantClosed: true,
		},
		{
			name:       "not json",
			args:       []string{"enqueue", "-t", "custom", "-o", "user-1", "-p", `{`},
			wantErr:    "invalid job payload",
			wantClosed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend()
			_, err := execute(t, b, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 0, b.store.Len())
			assert.Equal(t, tt.wantClosed, b.closed)
		})
	}
}

func TestListAndActive(t *testing.T) {
	b := newTestBackend()
	ctx := context.Background()

	first, err := b.queue.Enqueue(ctx, domain.JobTypeGenerateAudio, json.RawMessage(`{"podcastId":"p-1","scriptId":"s"}`), "user-1")
	require.NoError(t, err)
	_, err = b.queue.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-1")
	require.NoError(t, err)
	_, err = b.queue.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-2")
	require.NoError(t, err)

	out, err := execute(t, b, "list", "-o", "user-1")
	require.NoError(t, err)
	var listed []domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID)

	out, err = execute(t, b, "list", "-o", "user-1", "-t", "generate-script")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed, 1)

	out, err = execute(t, b, "active", "-t", "generate-audio", "-v", "p-1")
	require.NoError(t, err)
	var active domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &active))
	assert.Equal(t, first.ID, active.ID)

	_, err = execute(t, b, "active", "-t", "generate-audio", "-v", "p-2")
	assert.EqualError(t, err, "no active generate-audio job with podcastId=p-2")
}

func TestDelete(t *testing.T) {
	b := newTestBackend()
	job, err := b.queue.Enqueue(context.Background(), domain.JobTypeGenerateScript, nil, "user-1")
	require.NoError(t, err)

	out, err := execute(t, b, "delete", job.ID)
	require.NoError(t, err)
	assert.Equal(t, "deleted "+job.ID+"\n", out)
	assert.Equal(t, 0, b.store.Len())

	_, err = execute(t, b, "delete", job.ID)
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
}

func TestProcess(t *testing.T) {
	b := newTestBackend()
	b.handlers = jobs.Registry{}
	b.handlers.Register(domain.JobTypeGenerateScript, queue.HandlerFunc(
		func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
			return json.RawMessage(`{"scriptId":"s-1"}`), nil
		}))
	ctx := context.Background()

	job, err := b.queue.Enqueue(ctx, domain.JobTypeGenerateScript, nil, "user-1")
	require.NoError(t, err)

	out, err := execute(t, b, "process", job.ID)
	require.NoError(t, err)
	var processed domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &processed))
	assert.Equal(t, job.ID, processed.ID)
	assert.Equal(t, domain.StatusCompleted, processed.Status)
	assert.JSONEq(t, `{"scriptId":"s-1"}`, string(processed.Result))

	// A finished job is returned unchanged.
	out, err = execute(t, b, "process", job.ID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &processed))
	assert.Equal(t, domain.StatusCompleted, processed.Status)

	audio, err := b.queue.Enqueue(ctx, domain.JobTypeGenerateAudio, nil, "user-1")
	require.NoError(t, err)
	b.closed = false
	_, err = execute(t, b, "process", audio.ID)
	assert.EqualError(t, err, `no handler registered for job type "generate-audio"`)
	assert.True(t, b.closed)

	_, err = execute(t, b, "process", "missing")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
}

func TestSweep(t *testing.T) {
	b := newTestBackend()
	ctx := context.Background()

	job, err := b.queue.Enqueue(ctx, domain.JobTypeGenerateAvatar, nil, "user-1")
	require.NoError(t, err)
	_, err = b.store.ClaimNext(ctx, domain.JobTypeGenerateAvatar)
	require.NoError(t, err)
	b.store.SetStartedAt(job.ID, time.Now().Add(-time.Hour))

	out, err := execute(t, b, "sweep", "--max-age", "10m")
	require.NoError(t, err)

	var reaped []domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &reaped))
	require.Len(t, reaped, 1)
	assert.Equal(t, domain.StatusFailed, reaped[0].Status)
	assert.Equal(t, "job timed out: processing exceeded 10m0s", reaped[0].ErrorMessage())

	_, err = execute(t, b, "sweep", "--max-age", "0s")
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	b := newTestBackend()

	out, err := execute(t, b, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "migrations applied\n", out)

	out, err = execute(t, b, "migrate", "--down")
	require.NoError(t, err)
	assert.Equal(t, "migrations rolled back\n", out)

	assert.Equal(t, []bool{false, true}, b.migrations)
}

func TestConfigPathFromEnv(t *testing.T) {
	t.Setenv(envConfigPath, "/etc/genqueue/config.yaml")
	b := newTestBackend()

	_, err := execute(t, b, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "/etc/genqueue/config.yaml", b.configPath)

	_, err = execute(t, b, "migrate", "--config", "local.yaml")
	require.NoError(t, err)
	assert.Equal(t, "local.yaml", b.configPath)
}

func TestOpenFailure(t *testing.T) {
	cmd := NewRootCmd(func(string) (*Backend, error) {
		return nil, errors.New("connection refused")
	})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"get", "x"})
	assert.EqualError(t, cmd.Execute(), "connection refused")
}
