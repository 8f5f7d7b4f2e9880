package outbox

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*kafka.Writer)

// WithSASLPlain authenticates with SASL/PLAIN over TLS.
func WithSASLPlain(user, password string) ProducerOption {
	return func(w *kafka.Writer) {
		if user == "" {
			return
		}
		w.Transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: user, Password: password},
			TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
}

// WithBatchTimeout bounds how long the writer waits to fill a batch.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(w *kafka.Writer) {
		w.BatchTimeout = d
	}
}

// KafkaProducer publishes synchronously through a single writer. The topic travels on each
// message, so one writer serves every topic.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer. Messages are hash-partitioned by key, so every
// event for one date lands on the same partition in order.
func NewKafkaProducer(brokers []string, opts ...ProducerOption) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return &KafkaProducer{writer: w}
}

// WriteMessages stamps topic on msgs and blocks until all in-sync replicas acknowledged them.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	for i := range msgs {
		msgs[i].Topic = topic
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes pending batches.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
