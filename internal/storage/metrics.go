package storage

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for adaptor resolution.
const (
	resultPooled = "pooled"
	resultOpened = "opened"
	resultError  = "error"
)

var (
	adaptorsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gantry_storage_adaptors_open",
			Help: "Number of storage adaptor connections currently open.",
		},
	)

	resolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gantry_storage_resolves_total",
			Help: "Total number of storage adaptor resolutions by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(adaptorsOpen)
	prometheus.MustRegister(resolvesTotal)

	for _, r := range []string{resultPooled, resultOpened, resultError} {
		resolvesTotal.WithLabelValues(r)
	}
}
