package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/lecture-queue/internal/queue/domain"
)

const claimAttempts = 3

const jobColumns = `id, audio_path, original_filename, status, transcript_id,
	error_kind, error_message, created_at, started_at, finished_at`

// Storage handles all queue table operations
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type jobRow struct {
	ID               string         `db:"id"`
	AudioPath        string         `db:"audio_path"`
	OriginalFilename string         `db:"original_filename"`
	Status           string         `db:"status"`
	TranscriptID     sql.NullString `db:"transcript_id"`
	ErrorKind        sql.NullString `db:"error_kind"`
	ErrorMessage     sql.NullString `db:"error_message"`
	CreatedAt        int64          `db:"created_at"`
	StartedAt        sql.NullInt64  `db:"started_at"`
	FinishedAt       sql.NullInt64  `db:"finished_at"`
}

func (r jobRow) toDomain() *domain.Job {
	return &domain.Job{
		ID:               r.ID,
		AudioPath:        r.AudioPath,
		OriginalFilename: r.OriginalFilename,
		Status:           domain.Status(r.Status),
		TranscriptID:     r.TranscriptID.String,
		ErrorKind:        domain.ErrorKind(r.ErrorKind.String),
		ErrorMessage:     r.ErrorMessage.String,
		CreatedAt:        time.Unix(0, r.CreatedAt).UTC(),
		StartedAt:        nanosToTime(r.StartedAt),
		FinishedAt:       nanosToTime(r.FinishedAt),
	}
}

func nanosToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

// Enqueue inserts a queued job row
func (s *Storage) Enqueue(ctx context.Context, job *domain.Job) error {
	query := s.db.Rebind(`
		INSERT INTO transcription_jobs (id, audio_path, original_filename, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			job.ID,
			job.AudioPath,
			job.OriginalFilename,
			domain.StatusQueued,
			job.CreatedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	job.Status = domain.StatusQueued
	return nil
}

// HasProcessing reports whether any job is currently processing
func (s *Storage) HasProcessing(ctx context.Context) (bool, error) {
	var count int
	query := s.db.Rebind(`SELECT COUNT(1) FROM transcription_jobs WHERE status = ?`)
	if err := s.db.GetContext(ctx, &count, query, domain.StatusProcessing); err != nil {
		return false, fmt.Errorf("failed to check processing jobs: %w", err)
	}
	return count > 0, nil
}

// ClaimNext flips the oldest queued job to processing and returns it.
// Returns nil when the queue is empty or another job is already processing.
func (s *Storage) ClaimNext(ctx context.Context) (*domain.Job, error) {
	for attempt := 1; attempt <= claimAttempts; attempt++ {
		jobID, err := s.oldestQueued(ctx)
		if err != nil {
			return nil, err
		}
		if jobID == "" {
			return nil, nil
		}

		job, err := s.claimJob(ctx, jobID)
		if err != nil || job != nil {
			return job, err
		}

		busy, err := s.HasProcessing(ctx)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, nil
		}

		// the candidate left the queue between the read and the update
		s.logger.Debug("Claim candidate gone, retrying",
			slog.String("job_id", jobID),
			slog.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("failed to claim job after %d attempts", claimAttempts)
}

func (s *Storage) oldestQueued(ctx context.Context) (string, error) {
	var jobID string
	query := s.db.Rebind(`
		SELECT id FROM transcription_jobs
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT 1
	`)
	if err := s.db.GetContext(ctx, &jobID, query, domain.StatusQueued); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get next queued job: %w", err)
	}
	return jobID, nil
}

// claimJob moves one queued job to processing. The status guard is re-checked
// against the latest row version, so of two racing claimers only one gets the
// row; the NOT EXISTS clause and the unique index keep a different row from
// being claimed alongside it. Returns nil when the claim was lost.
func (s *Storage) claimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`
		UPDATE transcription_jobs
		SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
		AND NOT EXISTS (
			SELECT 1 FROM transcription_jobs WHERE status = ?
		)
		RETURNING ` + jobColumns)

	var row jobRow
	err := retryOnBusy(ctx, func() error {
		return s.db.GetContext(ctx, &row, query,
			domain.StatusProcessing,
			s.now().UnixNano(),
			jobID,
			domain.StatusQueued,
			domain.StatusProcessing,
		)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if isUniqueViolation(err) {
			// another process claimed a different row first
			s.logger.Warn("Claim lost to a concurrent worker", slog.String("job_id", jobID))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job := row.toDomain()
	s.logger.Info("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("filename", job.OriginalFilename),
	)
	return job, nil
}

// FinalizeSuccess records a finished job. With zero retention the row is
// deleted, otherwise it is kept as completed until PurgeCompleted removes it.
func (s *Storage) FinalizeSuccess(ctx context.Context, jobID, transcriptID string, retention time.Duration) error {
	var (
		query string
		args  []any
	)
	if retention <= 0 {
		query = `DELETE FROM transcription_jobs WHERE id = ? AND status = ?`
		args = []any{jobID, domain.StatusProcessing}
	} else {
		query = `
			UPDATE transcription_jobs
			SET status = ?, transcript_id = ?, finished_at = ?
			WHERE id = ? AND status = ?
		`
		args = []any{domain.StatusCompleted, transcriptID, s.now().UnixNano(), jobID, domain.StatusProcessing}
	}

	if err := s.execOne(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", jobID, err)
	}

	s.logger.Info("Job finalized",
		slog.String("job_id", jobID),
		slog.String("transcript_id", transcriptID),
		slog.Bool("retained", retention > 0),
	)
	return nil
}

// FinalizeFailure marks a processing job as failed. The row is retained.
func (s *Storage) FinalizeFailure(ctx context.Context, jobID string, kind domain.ErrorKind, message string) error {
	query := `
		UPDATE transcription_jobs
		SET status = ?, error_kind = ?, error_message = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`
	if err := s.execOne(ctx, query, domain.StatusFailed, kind, message, s.now().UnixNano(), jobID, domain.StatusProcessing); err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}

	s.logger.Info("Job marked failed",
		slog.String("job_id", jobID),
		slog.String("kind", string(kind)),
	)
	return nil
}

// execOne runs a single-row mutation guarded by status
func (s *Storage) execOne(ctx context.Context, query string, args ...any) error {
	query = s.db.Rebind(query)

	var result sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobNotProcessing
	}
	return nil
}

// GetJob retrieves a job by id
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM transcription_jobs WHERE id = ?`)

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain(), nil
}

// Summary returns the processing filename and the number of queued jobs
func (s *Storage) Summary(ctx context.Context) (domain.Summary, error) {
	var summary domain.Summary

	var filename string
	query := s.db.Rebind(`SELECT original_filename FROM transcription_jobs WHERE status = ? LIMIT 1`)
	err := s.db.GetContext(ctx, &filename, query, domain.StatusProcessing)
	switch {
	case err == nil:
		summary.ProcessingFilename = filename
	case errors.Is(err, sql.ErrNoRows):
	default:
		return summary, fmt.Errorf("failed to read processing job: %w", err)
	}

	query = s.db.Rebind(`SELECT COUNT(1) FROM transcription_jobs WHERE status = ?`)
	if err := s.db.GetContext(ctx, &summary.QueuedCount, query, domain.StatusQueued); err != nil {
		return summary, fmt.Errorf("failed to count queued jobs: %w", err)
	}

	return summary, nil
}

// RequeueProcessing returns jobs left processing by a dead worker to the queue.
// Their original created_at is kept so they stay at the head of the line.
func (s *Storage) RequeueProcessing(ctx context.Context) (int64, error) {
	query := s.db.Rebind(`
		UPDATE transcription_jobs
		SET status = ?, started_at = NULL
		WHERE status = ?
	`)
	return s.execCount(ctx, "requeue processing jobs", query, domain.StatusQueued, domain.StatusProcessing)
}

// FailProcessing marks jobs left processing by a dead worker as failed
func (s *Storage) FailProcessing(ctx context.Context, message string) (int64, error) {
	query := s.db.Rebind(`
		UPDATE transcription_jobs
		SET status = ?, error_kind = ?, error_message = ?, finished_at = ?
		WHERE status = ?
	`)
	return s.execCount(ctx, "fail processing jobs", query,
		domain.StatusFailed, domain.KindUnexpected, message, s.now().UnixNano(), domain.StatusProcessing)
}

// PurgeCompleted deletes completed rows finished before the cutoff
func (s *Storage) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.db.Rebind(`
		DELETE FROM transcription_jobs
		WHERE status = ? AND finished_at < ?
	`)
	return s.execCount(ctx, "purge completed jobs", query, domain.StatusCompleted, cutoff.UnixNano())
}

func (s *Storage) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	var result sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return result.RowsAffected()
}

// DeleteJob removes a failed or completed job. Queued and processing jobs
// belong to the worker and are refused.
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	query := s.db.Rebind(`
		DELETE FROM transcription_jobs
		WHERE id = ? AND status IN (?, ?)
	`)

	deleted, err := s.execCount(ctx, "delete job", query, jobID, domain.StatusFailed, domain.StatusCompleted)
	if err != nil {
		return err
	}
	if deleted > 0 {
		return nil
	}

	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrJobNotTerminal
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Status   domain.Status
	PageSize int
	Cursor   *JobCursor
}

// JobCursor marks the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns jobs newest first. It fetches PageSize+1 rows so callers
// can tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		nanos := filter.Cursor.CreatedAt.UnixNano()
		args = append(args, nanos, nanos, filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, len(rows))
	for i, row := range rows {
		jobs[i] = row.toDomain()
	}
	return jobs, nil
}
