package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/lecture-queue/internal/metrics"
	"github.com/cuongbtq/lecture-queue/internal/queue/domain"
)

const finalizeAttempts = 3

// handleFailure records a failed job. Failures are not retried and the
// source audio stays on disk for inspection.
func (w *Worker) handleFailure(ctx context.Context, job *domain.Job, jobErr *domain.JobError, elapsed time.Duration) {
	w.logger.Error("Job execution failed",
		slog.String("job_id", job.ID),
		slog.String("filename", job.OriginalFilename),
		slog.String("kind", string(jobErr.Kind)),
		slog.String("error", jobErr.Error()),
	)

	metrics.JobFinished(metrics.OutcomeFailed, string(jobErr.Kind), elapsed)

	var err error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		err = w.store.FinalizeFailure(ctx, job.ID, jobErr.Kind, jobErr.Error())
		if err == nil || errors.Is(err, domain.ErrJobNotProcessing) {
			return
		}

		w.logger.Warn("Failed to update job status to FAILED, retrying",
			slog.String("job_id", job.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < finalizeAttempts {
			time.Sleep(w.errorRetryInterval)
		}
	}

	// the row stays processing until the next startup applies the stale policy
	w.logger.Error("Failed to update job status to FAILED",
		slog.String("job_id", job.ID),
		slog.String("error", err.Error()),
	)
}
