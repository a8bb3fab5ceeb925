package coordination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wastewatch",
			Subsystem: "ingestion",
			Name:      "total",
			Help:      "Detection ingestions by outcome",
		},
		[]string{"outcome"},
	)

	escalationsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wastewatch",
			Subsystem: "ingestion",
			Name:      "escalations_total",
			Help:      "Escalations triggered during ingestion by reason",
		},
		[]string{"reason"},
	)
)

// Ingestion outcomes.
const (
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomePartial  = "partial"
	outcomeComplete = "complete"
)

func recordIngestion(outcome string) {
	ingestions.WithLabelValues(outcome).Inc()
}
