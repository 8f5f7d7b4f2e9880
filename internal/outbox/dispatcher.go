// Package outbox delivers events recorded alongside summary writes to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/healthdash/internal/events"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Option configures optional behaviour for the Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher drains the outbox table and delivers summary events to Kafka using Schema Registry metadata.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	registry         schemaRegistrar
	dlq              *DLQWriter
	pollInterval     time.Duration
	batchSize        int
	logger           *log.Logger
	schemaIDCache    sync.Map
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:             pool,
		producer:         producer,
		registry:         registry,
		dlq:              NewDLQWriter(pool),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		logger:           log.New(log.Writer(), "[outbox] ", log.LstdFlags|log.Lshortfile),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	claimed, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	latest, superseded := coalesce(claimed)
	if len(superseded) > 0 {
		supersededCounter.Add(float64(len(superseded)))
	}

	delivered, failures := d.deliver(ctx, latest)
	recordDelivered(delivered)

	for _, f := range failures {
		d.logger.Printf("delivery failure (event_id=%d, date=%s): %v", f.msg.EventID, f.msg.AggregateID, f.err)
		failedCounter.Inc()
		if err := d.dlq.Write(ctx, f.msg, fmt.Sprintf("%v (topic=%s)", f.err, f.msg.Topic)); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(f.msg.Topic).Inc()
	}

	return d.markPublished(ctx, claimed)
}

// coalesce keeps only the newest event per (event type, aggregate) for event types whose
// payload is a full snapshot. Older snapshots in the same batch are superseded.
func coalesce(messages []Message) (latest []Message, superseded []Message) {
	newest := make(map[string]int64)
	for _, msg := range messages {
		if !schemaCatalog[msg.EventType].Snapshot {
			continue
		}
		key := msg.EventType + "/" + msg.AggregateID
		if msg.EventID > newest[key] {
			newest[key] = msg.EventID
		}
	}

	latest = make([]Message, 0, len(messages))
	for _, msg := range messages {
		if id, ok := newest[msg.EventType+"/"+msg.AggregateID]; ok && id != msg.EventID {
			superseded = append(superseded, msg)
			continue
		}
		latest = append(latest, msg)
	}
	return latest, superseded
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return messages, nil
}

type deliveryFailure struct {
	msg Message
	err error
}

// deliver publishes messages grouped by topic. A message without schema metadata, or whose
// topic write fails, is reported as a failure without blocking the rest of the batch.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) ([]Message, []deliveryFailure) {
	type topicBatch struct {
		source  []Message
		records []kafka.Message
	}

	var failures []deliveryFailure
	batches := make(map[string]*topicBatch)
	topics := make([]string, 0)

	for _, msg := range messages {
		schemaID, err := d.schemaID(ctx, msg)
		if err != nil {
			failures = append(failures, deliveryFailure{msg: msg, err: err})
			continue
		}

		batch, ok := batches[msg.Topic]
		if !ok {
			batch = &topicBatch{}
			batches[msg.Topic] = batch
			topics = append(topics, msg.Topic)
		}
		batch.source = append(batch.source, msg)
		batch.records = append(batch.records, toRecord(msg, schemaID))
	}

	delivered := make([]Message, 0, len(messages))
	for _, topic := range topics {
		batch := batches[topic]
		if err := d.producer.WriteMessages(ctx, topic, batch.records...); err != nil {
			for _, msg := range batch.source {
				failures = append(failures, deliveryFailure{msg: msg, err: err})
			}
			continue
		}
		delivered = append(delivered, batch.source...)
	}
	return delivered, failures
}

func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}

	cacheKey := msg.SchemaSubject + "::" + meta.Schema
	if cached, found := d.schemaIDCache.Load(cacheKey); found {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		return 0, fmt.Errorf("register schema %s: %w", msg.SchemaSubject, err)
	}
	d.schemaIDCache.Store(cacheKey, id)
	return id, nil
}

func toRecord(msg Message, schemaID int) kafka.Message {
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			{Key: "aggregate_id", Value: []byte(msg.AggregateID)},
		},
	}
}

// markPublished closes out every claimed row: delivered, superseded or handed to the DLQ.
func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

// SchemaCatalogEntry maps event type to schema definition. Snapshot marks payloads that
// carry the full aggregate state, so only the newest per aggregate needs delivering.
type SchemaCatalogEntry struct {
	Schema   string
	Snapshot bool
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeDailySummaryUpdated: {
		Schema:   dailySummaryUpdatedSchema,
		Snapshot: true,
	},
}
