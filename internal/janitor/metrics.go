package janitor

import "github.com/prometheus/client_golang/prometheus"

var prunedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gantry_janitor_pruned_total",
		Help: "Entries removed by the janitor, by type.",
	},
	[]string{"type"},
)

func init() {
	prometheus.MustRegister(prunedTotal)

	prunedTotal.WithLabelValues("work_dir")
	prunedTotal.WithLabelValues("context_var")
}
