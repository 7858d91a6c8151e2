package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/lecture-queue/internal/metrics"
	"github.com/cuongbtq/lecture-queue/internal/queue/domain"
)

// stepResult is the outcome of the running phase. err is nil on success.
type stepResult struct {
	transcriptID string
	location     string
	err          *domain.JobError
}

func (r stepResult) failed() bool {
	return r.err != nil
}

// runJob processes a claimed job to a terminal state. Cancellation of ctx
// does not interrupt it: a claimed job finishes, fails, or dies with the
// process.
func (w *Worker) runJob(ctx context.Context, job *domain.Job) {
	jobCtx := context.WithoutCancel(ctx)
	started := time.Now()

	w.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("filename", job.OriginalFilename),
	)

	result := w.process(jobCtx, job)
	if result.failed() {
		w.handleFailure(jobCtx, job, result.err, time.Since(started))
		return
	}

	if err := w.store.FinalizeSuccess(jobCtx, job.ID, result.transcriptID, w.completedRetention); err != nil {
		w.logger.Error("Failed to finalize job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		w.discard(jobCtx, job, result)
		w.handleFailure(jobCtx, job, domain.NewJobError(domain.KindPersistence, err), time.Since(started))
		return
	}

	metrics.JobFinished(metrics.OutcomeSucceeded, "", time.Since(started))
	w.logger.Info("Job completed successfully",
		slog.String("job_id", job.ID),
		slog.String("transcript_id", result.transcriptID),
		slog.String("location", result.location),
		slog.Duration("elapsed", time.Since(started)),
	)

	if err := os.Remove(job.AudioPath); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("Failed to remove source audio",
			slog.String("job_id", job.ID),
			slog.String("path", job.AudioPath),
			slog.String("error", err.Error()),
		)
	}
}

// process runs the job's steps in order. A panic in any step becomes an
// unexpected failure.
func (w *Worker) process(ctx context.Context, job *domain.Job) (result stepResult) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered panic while processing job",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
			)
			result = stepResult{err: &domain.JobError{
				Kind:    domain.KindUnexpected,
				Message: fmt.Sprintf("unexpected error: %v", r),
			}}
		}
	}()

	if err := w.transcriber.Ready(ctx); err != nil {
		return stepResult{err: domain.NewJobError(domain.KindEngineUnavailable, err)}
	}

	started := time.Now()
	transcript, err := w.transcriber.Transcribe(ctx, job.AudioPath)
	metrics.ObserveEngine("transcriber", time.Since(started), err == nil)
	if err != nil {
		return stepResult{err: domain.NewJobError(domain.KindTranscription, err)}
	}
	w.logger.Debug("Transcription finished",
		slog.String("job_id", job.ID),
		slog.Int("chars", len(transcript)),
	)

	started = time.Now()
	notes := w.notes.Generate(ctx, transcript)
	metrics.ObserveEngine("notes", time.Since(started), true)

	location, err := w.artifacts.Write(job.OriginalFilename, transcript, notes)
	if err != nil {
		return stepResult{err: domain.NewJobError(domain.KindPersistence, err)}
	}

	transcriptID, err := w.catalog.Create(ctx, job.OriginalFilename, location, w.defaultCategory)
	if err != nil {
		w.discard(ctx, job, stepResult{location: location})
		return stepResult{err: domain.NewJobError(domain.KindPersistence, err)}
	}

	return stepResult{transcriptID: transcriptID, location: location}
}

// discard undoes the outputs of a job that will be recorded as failed, so a
// failed job leaves no transcript record or session directory behind.
func (w *Worker) discard(ctx context.Context, job *domain.Job, result stepResult) {
	if result.transcriptID != "" {
		if err := w.catalog.Delete(ctx, result.transcriptID); err != nil {
			w.logger.Error("Failed to delete orphaned transcript record",
				slog.String("job_id", job.ID),
				slog.String("transcript_id", result.transcriptID),
				slog.String("error", err.Error()),
			)
		}
	}

	if result.location != "" {
		if err := w.artifacts.Remove(result.location); err != nil {
			w.logger.Warn("Failed to remove session artifacts",
				slog.String("job_id", job.ID),
				slog.String("location", result.location),
				slog.String("error", err.Error()),
			)
		}
	}
}
