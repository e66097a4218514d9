package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/taskerr"
)

var (
	taskOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_task_outcomes_total",
			Help: "Total number of finished tasks by result and failure kind.",
		},
		[]string{"result", "kind"},
	)

	stageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gantry_task_stage_seconds",
			Help:    "Time spent in each task stage in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"stage"},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_tasks_in_flight",
			Help: "Number of tasks currently executing.",
		},
	)
)

func init() {
	prometheus.MustRegister(taskOutcomes)
	prometheus.MustRegister(stageSeconds)
	prometheus.MustRegister(tasksInFlight)

	taskOutcomes.WithLabelValues("success", "")
	for _, k := range taskerr.Kinds {
		taskOutcomes.WithLabelValues("failure", string(k))
	}
	for _, s := range []string{model.StateInputStaging, model.StateExecuting, model.StateOutputStaging} {
		stageSeconds.WithLabelValues(s)
	}
}
