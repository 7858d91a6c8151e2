package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/cuongbtq/lecture-queue/internal/queue/domain"
	"github.com/cuongbtq/lecture-queue/internal/queue/storage"
)

// QueueService is the queue surface the HTTP layer drives
type QueueService interface {
	Enqueue(ctx context.Context, audio io.Reader, filename string) (string, error)
	GetStatus(ctx context.Context, jobID string) (domain.StatusReport, error)
	GetQueueSummary(ctx context.Context) (domain.Summary, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports whether the wake notification broker is reachable
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Queue          QueueService
	Database       HealthChecker // optional
	Broker         BrokerStatus  // optional
	MaxUploadBytes int64
	ServiceName    string
}

// JobHandler handles transcription and queue HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	queue          QueueService
	maxUploadBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:         deps.Logger,
		queue:          deps.Queue,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}
