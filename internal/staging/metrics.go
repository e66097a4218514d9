package staging

import "github.com/prometheus/client_golang/prometheus"

// Metric label values.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultSkipped = "skipped"
)

var (
	replicaAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_replica_attempts_total",
			Help: "Total number of replica download attempts by result.",
		},
		[]string{"result"},
	)

	outputsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_outputs_total",
			Help: "Total number of declared outputs processed by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(replicaAttempts)
	prometheus.MustRegister(outputsTotal)

	for _, r := range []string{resultSuccess, resultFailure} {
		replicaAttempts.WithLabelValues(r)
	}
	for _, r := range []string{resultSuccess, resultFailure, resultSkipped} {
		outputsTotal.WithLabelValues(r)
	}
}
