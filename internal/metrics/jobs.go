package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsEnqueued,
		jobsFinished,
		jobDuration,
		staleRecovered,
		wakeSignals,
	)
}

var (
	jobsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "transcription_jobs_enqueued_total",
			Help: "Jobs accepted into the queue.",
		},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcription_jobs_finished_total",
			Help: "Jobs that left the processing state, by outcome and failure kind.",
		},
		[]string{"outcome", "kind"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcription_job_duration_seconds",
			Help:    "Time from claim to finalization.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		},
		[]string{"outcome"},
	)

	staleRecovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcription_jobs_stale_recovered_total",
			Help: "Processing rows found at worker start, by policy.",
		},
		[]string{"policy"},
	)

	wakeSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcription_wake_signals_total",
			Help: "Wake signals raised for the worker, by source.",
		},
		[]string{"source"},
	)
)

// Outcome labels
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

func JobEnqueued() {
	jobsEnqueued.Inc()
}

// JobFinished records a finalized job. kind is empty for successes.
func JobFinished(outcome, kind string, elapsed time.Duration) {
	if kind == "" {
		kind = "none"
	}
	jobsFinished.WithLabelValues(outcome, kind).Inc()
	jobDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func StaleRecovered(policy string, n int64) {
	staleRecovered.WithLabelValues(norm(policy)).Add(float64(n))
}

func WakeSignal(source string) {
	wakeSignals.WithLabelValues(norm(source)).Inc()
}

func boolLabel(b bool) string {
	return strconv.FormatBool(b)
}
