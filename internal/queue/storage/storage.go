// Package storage is the PostgreSQL implementation of queue.Store.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

var _ queue.Store = (*Storage)(nil)

// Storage handles all job table operations
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const insertQuery = `
	INSERT INTO jobs (id, type, status, payload, created_by)
	VALUES ($1, $2, $3, $4::jsonb, $5)
	RETURNING ` + jobColumns

// Insert stores a new pending job
func (s *Storage) Insert(ctx context.Context, jobType domain.JobType, payload json.RawMessage, createdBy string) (*domain.Job, error) {
	return insert(ctx, s.db, jobType, payload, createdBy)
}

// InsertUnique inserts a pending job unless an active job of jobType already
// carries value in payload field key. Concurrent callers for the same
// (type, key, value) are serialized by a transaction scoped advisory lock, so
// at most one of them inserts.
func (s *Storage) InsertUnique(ctx context.Context, jobType domain.JobType, payload json.RawMessage, createdBy, key, value string) (*domain.Job, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	lockKey := fmt.Sprintf("jobs:%s:%s:%s", jobType, key, value)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return nil, false, fmt.Errorf("failed to lock dedupe key: %w", storeError(err))
	}

	active, err := findActive(ctx, tx, jobType, key, value)
	if err != nil {
		return nil, false, err
	}
	if active != nil {
		return active, false, nil
	}

	job, err := insert(ctx, tx, jobType, payload, createdBy)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit job insert: %w", err)
	}

	return job, true, nil
}

func insert(ctx context.Context, q sqlx.QueryerContext, jobType domain.JobType, payload json.RawMessage, createdBy string) (*domain.Job, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, insertQuery,
		uuid.NewString(),
		string(jobType),
		string(domain.StatusPending),
		string(payload),
		createdBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", storeError(err))
	}

	return row.toDomain(), nil
}

// FindByID retrieves a job by its id
func (s *Storage) FindByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewJobNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain(), nil
}

// FindByOwner lists jobs created by ownerID, oldest first. An empty jobType
// matches every type.
func (s *Storage) FindByOwner(ctx context.Context, ownerID string, jobType domain.JobType) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE created_by = $1
		  AND ($2::text = '' OR type = $2::text)
		ORDER BY created_at ASC, id ASC
	`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, ownerID, string(jobType)); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return toDomainList(rows), nil
}

// FindByOwnerPage returns at most q.Limit jobs of q.OwnerID positioned after
// q.After in (created_at, id) order. The row comparison is served by the
// (created_by, created_at) index.
func (s *Storage) FindByOwnerPage(ctx context.Context, q queue.OwnerQuery) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE created_by = $1
		  AND ($2::text = '' OR type = $2::text)
		  AND ($3::text = '' OR status = $3::text)
		  AND ($4::timestamptz IS NULL OR (created_at, id) > ($4::timestamptz, $5::text))
		ORDER BY created_at ASC, id ASC
		LIMIT $6
	`

	var (
		afterAt sql.NullTime
		afterID string
	)
	if q.After != nil {
		afterAt = sql.NullTime{Time: q.After.CreatedAt, Valid: true}
		afterID = q.After.ID
	}

	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, query,
		q.OwnerID,
		string(q.Type),
		string(q.Status),
		afterAt,
		afterID,
		q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs page: %w", err)
	}

	return toDomainList(rows), nil
}

// UpdateStatus moves a job to status. The update only applies when the row is
// in a status the transition is allowed from; result and errMsg are written
// only when non-nil.
func (s *Storage) UpdateStatus(ctx context.Context, id string, status domain.Status, result json.RawMessage, errMsg *string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2::text,
		    result = COALESCE($3::jsonb, result),
		    error = COALESCE($4::text, error),
		    started_at = CASE WHEN $2::text = 'processing' THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $2::text IN ('completed', 'failed') THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = ANY($5::text[])
		RETURNING ` + jobColumns

	var resultArg sql.NullString
	if result != nil {
		resultArg = sql.NullString{String: string(result), Valid: true}
	}
	var errArg sql.NullString
	if errMsg != nil {
		errArg = sql.NullString{String: *errMsg, Valid: true}
	}

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		id,
		string(status),
		resultArg,
		errArg,
		pq.Array(statusStrings(status.AllowedFrom())),
	)
	if err == nil {
		return row.toDomain(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update job status: %w", storeError(err))
	}

	// Nothing matched: either the job is gone or its status forbids the move.
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id); err != nil {
		return nil, fmt.Errorf("failed to check job: %w", err)
	}
	if !exists {
		return nil, domain.NewJobNotFoundError(id)
	}

	s.logger.Warn("Rejected job status transition",
		slog.String("job_id", id),
		slog.String("status", string(status)),
	)
	return nil, fmt.Errorf("%w: job %s to %s", domain.ErrInvalidTransition, id, status)
}

// ClaimNext atomically moves the oldest pending job of jobType to processing.
// Rows locked by a concurrent claim are skipped, so no two callers ever get
// the same job. Returns nil when nothing is pending.
func (s *Storage) ClaimNext(ctx context.Context, jobType domain.JobType) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'processing',
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE id = (
			SELECT id
			FROM jobs
			WHERE type = $1
			  AND status = 'pending'
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, string(jobType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return row.toDomain(), nil
}

// FindActiveByCorrelation returns the oldest pending or processing job of
// jobType whose payload has key set to value, or nil.
func (s *Storage) FindActiveByCorrelation(ctx context.Context, jobType domain.JobType, key, value string) (*domain.Job, error) {
	return findActive(ctx, s.db, jobType, key, value)
}

func findActive(ctx context.Context, q sqlx.QueryerContext, jobType domain.JobType, key, value string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE type = $1
		  AND status = ANY($2::text[])
		  AND payload ->> $3::text = $4::text
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`

	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, query,
		string(jobType),
		pq.Array(statusStrings(domain.ActiveStatuses)),
		key,
		value,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active job: %w", err)
	}

	return row.toDomain(), nil
}

// SweepStale fails every job that has been processing for longer than maxAge
// and returns the rows it changed.
func (s *Storage) SweepStale(ctx context.Context, maxAge time.Duration) ([]*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'failed',
		    error = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND started_at < NOW() - make_interval(secs => $1)
		RETURNING ` + jobColumns

	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, query, maxAge.Seconds(), domain.StaleJobMessage(maxAge))
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}

	return toDomainList(rows), nil
}

// Delete removes a job and reports whether it existed
func (s *Storage) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// storeError marks data exceptions (SQLSTATE class 22, e.g. a NUL character in
// text or jsonb) as domain.ErrUnstorable; other errors pass through.
func storeError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "22" {
		return fmt.Errorf("%w: %s", domain.ErrUnstorable, pqErr.Message)
	}
	return err
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
