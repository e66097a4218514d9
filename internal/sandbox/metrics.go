package sandbox

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeExited    = "exited"
	outcomeNonZero   = "non_zero"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_sandbox_runs_total",
			Help: "Total number of sandbox runs by outcome.",
		},
		[]string{"outcome"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gantry_sandbox_run_seconds",
			Help:    "Wall-clock duration of sandbox runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)

	for _, o := range []string{outcomeExited, outcomeNonZero, outcomeError, outcomeCancelled} {
		runsTotal.WithLabelValues(o)
	}
}
