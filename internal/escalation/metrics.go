package escalation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wastewatch"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escalations",
			Name:      "queue_size",
			Help:      "Number of escalation items in queue by state",
		},
		[]string{"state"},
	)

	enqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalations",
			Name:      "enqueued_total",
			Help:      "Total escalation items enqueued",
		},
		[]string{"channel", "status"},
	)

	sent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalations",
			Name:      "sent_total",
			Help:      "Total escalation delivery attempts by outcome",
		},
		[]string{"channel", "status"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escalations",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver an escalation",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)
)

func recordEnqueued(channel, status string) {
	enqueued.WithLabelValues(channel, status).Inc()
}

func recordSent(channel, status string) {
	sent.WithLabelValues(channel, status).Inc()
}

func recordSendDuration(channel string, d time.Duration) {
	sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// RecordQueueStats updates queue size gauges.
func RecordQueueStats(stats QueueStats) {
	queueSize.WithLabelValues("ready").Set(float64(stats.Ready))
	queueSize.WithLabelValues("delayed").Set(float64(stats.Delayed))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
