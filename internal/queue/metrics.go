package queue

import "github.com/prometheus/client_golang/prometheus"

var messagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gantry_queue_messages_total",
		Help: "NATS messages received, by type.",
	},
	[]string{"type"},
)

func init() {
	prometheus.MustRegister(messagesTotal)

	for _, t := range []string{"task", "cancel", "invalid", "dropped"} {
		messagesTotal.WithLabelValues(t)
	}
}
