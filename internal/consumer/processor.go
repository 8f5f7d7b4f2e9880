// Package consumer reads daily summary events from Kafka and dispatches them to handlers.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a decoded record published by the outbox dispatcher.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	AggregateID   string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetry sets how many times a failing handler is invoked for one message and the pause
// between attempts. After the last attempt the message is committed and counted as dropped.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Processor) {
		if attempts < 1 {
			attempts = 1
		}
		p.attempts = attempts
		p.backoff = backoff
	}
}

// WithErrorCapture reports dropped messages to an error tracker.
func WithErrorCapture(capture func(error, map[string]string)) Option {
	return func(p *Processor) {
		p.capture = capture
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader   Reader
	handler  Handler
	attempts int
	backoff  time.Duration
	capture  func(error, map[string]string)
	logger   *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handler:  handler,
		attempts: 3,
		backoff:  2 * time.Second,
		capture:  func(error, map[string]string) {},
		logger:   log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		p.process(ctx, msg)
	}
}

func (p *Processor) process(ctx context.Context, msg kafka.Message) {
	event, err := decodeMessage(msg)
	if err != nil {
		p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, err)
		recordResult(msg.Topic, "", resultDecodeError)
		p.commit(ctx, msg)
		return
	}

	if err := p.handleWithRetry(ctx, event); err != nil {
		if ctx.Err() != nil {
			// Leave the offset uncommitted so the message is redelivered after restart.
			return
		}
		p.logger.Printf("dropping message after %d attempts (event_type=%s, aggregate=%s, offset=%d): %v",
			p.attempts, event.EventType, event.AggregateID, event.Offset, err)
		recordResult(event.Topic, event.EventType, resultDropped)
		p.capture(err, map[string]string{"component": "consumer", "event_type": event.EventType, "aggregate_id": event.AggregateID})
		p.commit(ctx, msg)
		return
	}

	if p.commit(ctx, msg) {
		recordResult(event.Topic, event.EventType, resultProcessed)
		recordLastMessage(event)
	}
}

func (p *Processor) handleWithRetry(ctx context.Context, event Message) error {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.handler.Handle(ctx, event); err == nil {
			return nil
		}
		recordResult(event.Topic, event.EventType, resultHandlerError)
		p.logger.Printf("handler error (event_type=%s, aggregate=%s, attempt=%d): %v", event.EventType, event.AggregateID, attempt, err)

		if attempt == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff):
		}
	}
	return err
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Printf("commit error (topic=%s, offset=%d): %v", msg.Topic, msg.Offset, err)
		return false
	}
	return true
}

func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) < 5 || msg.Value[0] != 0 {
		return Message{}, fmt.Errorf("invalid wire payload (length %d)", len(msg.Value))
	}

	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}
	aggregateID, _ := headerValue(msg, "aggregate_id")
	schemaSubject, _ := headerValue(msg, "schema_subject")

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     string(eventType),
		AggregateID:   string(aggregateID),
		SchemaSubject: string(schemaSubject),
		SchemaID:      int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), msg.Value[5:]...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
