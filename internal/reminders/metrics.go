package reminders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultEnqueued        = "enqueued"
	resultDuplicate       = "duplicate"
	resultInvalidSchedule = "invalid_schedule"
	resultFailed          = "failed"
)

var remindersPlanned = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pillbox",
		Subsystem: "reminders",
		Name:      "planned_total",
		Help:      "Planned doses by result",
	},
	[]string{"result"},
)

func recordPlanned(result string) {
	remindersPlanned.WithLabelValues(result).Inc()
}
