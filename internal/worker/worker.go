package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/lecture-queue/internal/metrics"
	"github.com/cuongbtq/lecture-queue/internal/queue"
	"github.com/cuongbtq/lecture-queue/internal/queue/domain"
)

// State is the worker loop's phase
type State string

const (
	StateIdle     State = "idle"
	StateChecking State = "checking"
	StateRunning  State = "running"
)

// Stale processing policies
const (
	StalePolicyRequeue = "requeue"
	StalePolicyFail    = "fail"
)

const (
	defaultErrorRetryInterval = 5 * time.Second
	defaultPurgeInterval      = time.Minute
	staleFailureMessage       = "worker stopped before the job finished"
)

// JobStore is the worker's view of the queue table
type JobStore interface {
	ClaimNext(ctx context.Context) (*domain.Job, error)
	FinalizeSuccess(ctx context.Context, jobID, transcriptID string, retention time.Duration) error
	FinalizeFailure(ctx context.Context, jobID string, kind domain.ErrorKind, message string) error
	RequeueProcessing(ctx context.Context) (int64, error)
	FailProcessing(ctx context.Context, message string) (int64, error)
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// Transcriber converts an audio file to text
type Transcriber interface {
	// Ready loads the engine if needed. An error means the engine is unavailable.
	Ready(ctx context.Context) error
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// NotesGenerator turns a transcript into markdown notes. It never fails:
// problems are reported inside the returned text.
type NotesGenerator interface {
	Generate(ctx context.Context, transcript string) string
}

// ArtifactStore persists a session's files and returns their location
type ArtifactStore interface {
	Write(filename, transcript, notes string) (string, error)
	Remove(location string) error
}

// Catalog records a transcript in the user-facing library
type Catalog interface {
	Create(ctx context.Context, filename, location, category string) (string, error)
	Delete(ctx context.Context, transcriptID string) error
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Store       JobStore
	Coordinator *queue.Coordinator
	Transcriber Transcriber
	Notes       NotesGenerator
	Artifacts   ArtifactStore
	Catalog     Catalog

	DefaultCategory    string
	StalePolicy        string
	CompletedRetention time.Duration
	ErrorRetryInterval time.Duration
	PollInterval       time.Duration
	PurgeInterval      time.Duration
}

// Worker drains the transcription queue one job at a time
type Worker struct {
	logger      *slog.Logger
	store       JobStore
	coord       *queue.Coordinator
	transcriber Transcriber
	notes       NotesGenerator
	artifacts   ArtifactStore
	catalog     Catalog

	defaultCategory    string
	stalePolicy        string
	completedRetention time.Duration
	errorRetryInterval time.Duration
	pollInterval       time.Duration
	purgeInterval      time.Duration

	stateMu sync.RWMutex
	state   State
	wg      sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:             cfg.Logger,
		store:              cfg.Store,
		coord:              cfg.Coordinator,
		transcriber:        cfg.Transcriber,
		notes:              cfg.Notes,
		artifacts:          cfg.Artifacts,
		catalog:            cfg.Catalog,
		defaultCategory:    cfg.DefaultCategory,
		stalePolicy:        cfg.StalePolicy,
		completedRetention: cfg.CompletedRetention,
		errorRetryInterval: cfg.ErrorRetryInterval,
		pollInterval:       cfg.PollInterval,
		purgeInterval:      cfg.PurgeInterval,
		state:              StateIdle,
	}

	if w.stalePolicy == "" {
		w.stalePolicy = StalePolicyRequeue
	}
	if w.errorRetryInterval <= 0 {
		w.errorRetryInterval = defaultErrorRetryInterval
	}
	if w.purgeInterval <= 0 {
		w.purgeInterval = defaultPurgeInterval
	}

	return w
}

// State returns the loop's current phase
func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()
}

// Run reconciles stale rows, then processes jobs until ctx is canceled.
// A job that is running when ctx is canceled is finished before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("stale_policy", w.stalePolicy),
		slog.Duration("completed_retention", w.completedRetention),
		slog.Duration("poll_interval", w.pollInterval),
	)

	if err := w.recoverStale(ctx); err != nil {
		return err
	}

	if w.completedRetention > 0 {
		w.wg.Add(1)
		go w.purgeLoop(ctx)
	}
	if w.pollInterval > 0 {
		w.wg.Add(1)
		go w.pollLoop(ctx)
	}

	// jobs may have been submitted while no worker was running
	w.coord.Signal()
	metrics.WakeSignal("startup")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping...")
			w.wg.Wait()
			w.logger.Info("Worker stopped")
			return nil

		case <-w.coord.Wait():
			w.drain(ctx)
		}
	}
}

// drain alternates checking and running until the queue is empty
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.checkAndClaim(ctx)
		if err != nil {
			w.logger.Error("Failed to check queue",
				slog.String("error", err.Error()),
				slog.Duration("retry_after", w.errorRetryInterval),
			)
			w.setState(StateIdle)
			w.retryLater(ctx)
			return
		}

		if job == nil {
			w.setState(StateIdle)
			w.logger.Debug("Queue empty, worker idle")
			return
		}

		w.runJob(ctx, job)
	}
	w.setState(StateIdle)
}

// checkAndClaim clears the wake signal before it looks at the store, so a
// submission that lands after the look always leaves a signal behind.
func (w *Worker) checkAndClaim(ctx context.Context) (*domain.Job, error) {
	w.coord.Lock()
	defer w.coord.Unlock()

	w.setState(StateChecking)
	w.coord.Clear()

	job, err := w.store.ClaimNext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to claim next job: %w", err)
	}
	if job != nil {
		w.setState(StateRunning)
	}
	return job, nil
}

// retryLater re-raises the signal after the retry interval
func (w *Worker) retryLater(ctx context.Context) {
	timer := time.NewTimer(w.errorRetryInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		w.coord.Signal()
		metrics.WakeSignal("retry")
	case <-ctx.Done():
	}
}

// recoverStale applies the stale policy to rows left processing by a
// previous worker that died mid-job.
func (w *Worker) recoverStale(ctx context.Context) error {
	var (
		n   int64
		err error
	)

	switch w.stalePolicy {
	case StalePolicyFail:
		n, err = w.store.FailProcessing(ctx, staleFailureMessage)
	default:
		n, err = w.store.RequeueProcessing(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	if n > 0 {
		metrics.StaleRecovered(w.stalePolicy, n)
		w.logger.Warn("Recovered stale processing jobs",
			slog.Int64("count", n),
			slog.String("policy", w.stalePolicy),
		)
	}
	return nil
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.coord.Signal()
			metrics.WakeSignal("poll")
		}
	}
}

func (w *Worker) purgeLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.purgeCompleted(ctx)
		}
	}
}

func (w *Worker) purgeCompleted(ctx context.Context) {
	n, err := w.store.PurgeCompleted(ctx, time.Now().Add(-w.completedRetention))
	if err != nil {
		w.logger.Warn("Failed to purge completed jobs",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		w.logger.Info("Purged completed jobs", slog.Int64("count", n))
	}
}
