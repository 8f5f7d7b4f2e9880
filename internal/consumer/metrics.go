package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultProcessed    = "processed"
	resultHandlerError = "handler_error"
	resultDecodeError  = "decode_error"
	resultDropped      = "dropped"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka messages seen by the consumer, grouped by result.",
	}, []string{"topic", "event_type", "result"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "healthdash",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Produce time of the most recent successfully processed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, lastMessageGauge)
}

func recordResult(topic, eventType, result string) {
	messagesCounter.WithLabelValues(topic, eventType, result).Inc()
}

func recordLastMessage(msg Message) {
	if msg.Timestamp.IsZero() {
		return
	}
	lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
}
