package dispatch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wastewatch"

var dispatchOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "operations_total",
		Help:      "Dispatch operations by outcome",
	},
	[]string{"operation", "outcome"},
)

// recordOperation records the outcome of a dispatch operation.
func recordOperation(operation string, err error) {
	dispatchOperations.WithLabelValues(operation, outcome(err)).Inc()
}

func outcome(err error) string {
	var rejected *RejectedError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &rejected):
		return string(rejected.Reason)
	case errors.Is(err, ErrNoActiveAssignment):
		return "no_active_assignment"
	default:
		return "error"
	}
}
