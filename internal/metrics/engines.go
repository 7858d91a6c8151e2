package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(engineLatency) }

var engineLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "transcription_engine_seconds",
		Help:    "Engine call latency by engine and success.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	},
	[]string{"engine", "success"},
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ObserveEngine records one call to the transcription or notes engine
func ObserveEngine(engine string, elapsed time.Duration, success bool) {
	engineLatency.WithLabelValues(norm(engine), boolLabel(success)).Observe(elapsed.Seconds())
}
