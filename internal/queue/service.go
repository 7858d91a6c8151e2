package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/lecture-queue/internal/metrics"
	"github.com/cuongbtq/lecture-queue/internal/queue/domain"
	"github.com/cuongbtq/lecture-queue/internal/queue/storage"
)

// Store is the part of the queue table the service needs
type Store interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	Summary(ctx context.Context) (domain.Summary, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Notifier tells workers in other processes that a job was enqueued
type Notifier interface {
	Notify(ctx context.Context, jobID string) error
}

// Options configures a Service
type Options struct {
	UploadDir    string
	ExposeErrors bool
	// Notifier is optional; nil when the worker runs in-process
	Notifier Notifier
}

// Service is the submission and polling side of the queue
type Service struct {
	store        Store
	coord        *Coordinator
	notifier     Notifier
	uploadDir    string
	exposeErrors bool
	logger       *slog.Logger

	clockMu   sync.Mutex
	lastStamp time.Time
	now       func() time.Time
}

// NewService creates a new queue service
func NewService(store Store, coord *Coordinator, opts Options, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		coord:        coord,
		notifier:     opts.Notifier,
		uploadDir:    opts.UploadDir,
		exposeErrors: opts.ExposeErrors,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores the audio blob, records a queued job and wakes the worker.
// It returns once the job is durable; it never waits on processing.
func (s *Service) Enqueue(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if filename == "" {
		filename = domain.DefaultFilename
	}

	jobID := uuid.NewString()

	audioPath, err := s.saveBlob(audio, filename)
	if err != nil {
		return "", err
	}

	job := &domain.Job{
		ID:               jobID,
		AudioPath:        audioPath,
		OriginalFilename: filename,
		CreatedAt:        s.stamp(),
	}
	if err := s.store.Enqueue(ctx, job); err != nil {
		if rmErr := os.Remove(audioPath); rmErr != nil {
			s.logger.Warn("Failed to remove orphaned upload",
				slog.String("path", audioPath),
				slog.String("error", rmErr.Error()),
			)
		}
		return "", err
	}

	metrics.JobEnqueued()
	s.logger.Info("Job enqueued",
		slog.String("job_id", jobID),
		slog.String("filename", filename),
	)

	s.coord.Signal()
	metrics.WakeSignal("local")

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, jobID); err != nil {
			// the row is durable; the worker picks it up on its next check
			s.logger.Warn("Failed to publish wake notification",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}

	return jobID, nil
}

func (s *Service) saveBlob(audio io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".tmp"
	}
	path := filepath.Join(s.uploadDir, uuid.NewString()+ext)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(file, audio); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close upload: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// stamp returns a creation time strictly greater than the previous one so
// submission order survives clock ties.
func (s *Service) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := s.now()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = t
	return t
}

// GetStatus reports a job's state. A missing row means the job finished and
// was removed, so it reads as completed.
func (s *Service) GetStatus(ctx context.Context, jobID string) (domain.StatusReport, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return domain.StatusReport{Status: domain.StatusCompleted}, nil
		}
		return domain.StatusReport{}, err
	}

	report := domain.StatusReport{
		Status:       job.Status,
		TranscriptID: job.TranscriptID,
		Known:        true,
	}
	if job.Status == domain.StatusFailed {
		report.ErrorMessage = s.errorText(job)
	}
	return report, nil
}

// errorText hides raw failure text when details are not exposed
func (s *Service) errorText(job *domain.Job) string {
	if s.exposeErrors {
		return job.ErrorMessage
	}
	return job.ErrorKind.PublicMessage()
}

// GetQueueSummary returns the processing filename and queued count
func (s *Service) GetQueueSummary(ctx context.Context) (domain.Summary, error) {
	return s.store.Summary(ctx)
}

// ListJobs pages through jobs newest first
func (s *Service) ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error) {
	jobs, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Status == domain.StatusFailed {
			job.ErrorMessage = s.errorText(job)
		}
	}
	return jobs, nil
}

// DeleteJob purges a failed or completed job
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("Job deleted", slog.String("job_id", jobID))
	return nil
}
