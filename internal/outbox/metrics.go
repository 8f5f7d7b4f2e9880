package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Number of outbox events successfully published to Kafka.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Number of outbox events that failed to publish and were routed to the DLQ.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "healthdash",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent fetching, delivering, and marking outbox batches.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Number of outbox events routed to the dead-letter queue, labeled by topic.",
	}, []string{"topic"})

	supersededCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "outbox",
		Name:      "events_superseded_total",
		Help:      "Summary snapshots skipped because a newer one for the same date was in the batch.",
	})

	deliveredByTypeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "outbox",
		Name:      "events_delivered_by_type_total",
		Help:      "Delivered outbox events labeled by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter, supersededCounter, deliveredByTypeCounter)
}

func recordDelivered(messages []Message) {
	deliveredCounter.Add(float64(len(messages)))
	for _, msg := range messages {
		deliveredByTypeCounter.WithLabelValues(msg.EventType).Inc()
	}
}
