package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/healthdash/internal/events"
)

func wireValue(schemaID uint32, payload []byte) []byte {
	value := make([]byte, 5+len(payload))
	value[0] = 0
	binary.BigEndian.PutUint32(value[1:5], schemaID)
	copy(value[5:], payload)
	return value
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := []byte(`{"date":"2024-01-14","steps":8000}`)
	msg := kafka.Message{
		Topic:     events.TopicSummaryEvents,
		Partition: 0,
		Offset:    10,
		Time:      time.Now().UTC(),
		Value:     wireValue(42, payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.TypeDailySummaryUpdated)},
			{Key: "aggregate_id", Value: []byte("2024-01-14")},
			{Key: "schema_subject", Value: []byte("health_summary_events-value")},
		},
	}

	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, events.TypeDailySummaryUpdated, handler.last.EventType)
	require.Equal(t, "2024-01-14", handler.last.AggregateID)
	require.Equal(t, "health_summary_events-value", handler.last.SchemaSubject)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
}

func summaryRecord(offset int64) kafka.Message {
	return kafka.Message{
		Topic:  events.TopicSummaryEvents,
		Offset: offset,
		Time:   time.Now().UTC(),
		Value:  wireValue(99, []byte(`{"date":"2024-01-14"}`)),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.TypeDailySummaryUpdated)},
			{Key: "aggregate_id", Value: []byte("2024-01-14")},
		},
	}
}

func TestProcessorDropsMessageAfterRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{messages: []kafka.Message{summaryRecord(20)}, after: contextCanceled}
	handler := &stubHandler{err: errors.New("boom")}
	var captured []map[string]string

	processor := NewProcessor(reader, handler,
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithRetry(3, 0),
		WithErrorCapture(func(_ error, tags map[string]string) { captured = append(captured, tags) }))

	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Equal(t, 3, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Len(t, captured, 1)
	require.Equal(t, "2024-01-14", captured[0]["aggregate_id"])
}

func TestProcessorRecoversOnRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{messages: []kafka.Message{summaryRecord(21)}, after: contextCanceled}
	handler := &stubHandler{err: errors.New("transient"), failures: 1}
	captures := 0

	processor := NewProcessor(reader, handler,
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithRetry(3, 0),
		WithErrorCapture(func(error, map[string]string) { captures++ }))

	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Equal(t, 2, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Zero(t, captures)
}

func TestProcessorLeavesOffsetOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reader := &stubReader{messages: []kafka.Message{summaryRecord(22)}, after: contextCanceled}
	handler := &stubHandler{err: errors.New("boom"), onCall: cancel}

	processor := NewProcessor(reader, handler,
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithRetry(5, time.Minute))

	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Zero(t, reader.commitCalls)
}

func TestProcessorCommitsUndecodableMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	missingHeader := kafka.Message{Topic: events.TopicSummaryEvents, Offset: 1, Value: wireValue(1, []byte(`{}`))}
	badMagic := kafka.Message{
		Topic:   events.TopicSummaryEvents,
		Offset:  2,
		Value:   append([]byte{7}, wireValue(1, []byte(`{}`))[1:]...),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(events.TypeDailySummaryUpdated)}},
	}
	short := kafka.Message{
		Topic:   events.TopicSummaryEvents,
		Offset:  3,
		Value:   []byte{0, 1},
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(events.TypeDailySummaryUpdated)}},
	}

	reader := &stubReader{messages: []kafka.Message{missingHeader, badMagic, short}, after: contextCanceled}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))
	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Zero(t, handler.calls)
	require.Equal(t, 3, reader.commitCalls)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

// stubHandler fails with err on every call, or only on the first failures calls when failures > 0.
type stubHandler struct {
	calls    int
	err      error
	failures int
	onCall   func()
	last     Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	if h.onCall != nil {
		h.onCall()
	}
	if h.err == nil || (h.failures > 0 && h.calls > h.failures) {
		return nil
	}
	return h.err
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
