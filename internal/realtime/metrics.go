package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pillbox"

var (
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Number of registered live connections",
		},
	)

	fanoutSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "sends_total",
			Help:      "Messages pushed to live connections by envelope type and result",
		},
		[]string{"type", "result"},
	)
)

func recordSend(envelopeType string, ok bool) {
	result := "success"
	if !ok {
		result = "failed"
	}
	fanoutSends.WithLabelValues(envelopeType, result).Inc()
}
