package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEntryNotFound is returned by Release when no quarantined entry has the given id.
var ErrEntryNotFound = errors.New("dlq entry not found")

// RunResult counts what one DLQ pass did with each due entry.
type RunResult struct {
	Requeued    int
	Superseded  int
	Quarantined int
	Rescheduled int
}

// Handled is the number of entries that left the waiting state or were rescheduled.
func (r RunResult) Handled() int {
	return r.Requeued + r.Superseded + r.Quarantined + r.Rescheduled
}

// DLQManager moves dead-lettered events back into the outbox. Summary snapshots that a newer
// delivery already replaced are discarded; entries that exhaust their retries are quarantined.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewDLQManager constructs a DLQManager. Non-positive values fall back to 5 retries and a
// one minute base delay.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: time.Hour}
}

// RunOnce handles up to limit due entries, oldest first. Errors on individual entries are
// joined and returned alongside the counts for the entries that succeeded.
func (m *DLQManager) RunOnce(ctx context.Context, limit int) (RunResult, error) {
	var result RunResult

	due, err := m.dueEntries(ctx, limit)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, entry := range due {
		outcome, err := m.resolve(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
			continue
		}
		recordDLQOutcome(outcome, entry.EventType)
		switch outcome {
		case dlqOutcomeRequeued:
			result.Requeued++
		case dlqOutcomeSuperseded:
			result.Superseded++
		case dlqOutcomeQuarantined:
			result.Quarantined++
		case dlqOutcomeRetryLater:
			result.Rescheduled++
		}
	}

	updateBacklogGauge(ctx, m.pool)
	return result, errors.Join(errs...)
}

// Release returns a quarantined entry to the waiting state with a fresh retry budget.
func (m *DLQManager) Release(ctx context.Context, dlqID int64) error {
	tag, err := m.pool.Exec(ctx, `
		UPDATE outbox_dlq
		   SET quarantined_at = NULL, quarantine_reason = NULL, retry_count = 0, next_retry_at = NOW()
		 WHERE dlq_id = $1 AND quarantined_at IS NOT NULL`, dlqID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrEntryNotFound, dlqID)
	}
	updateBacklogGauge(ctx, m.pool)
	return nil
}

func (m *DLQManager) dueEntries(ctx context.Context, limit int) ([]dlqEntry, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT dlq_id, event_id, event_type, topic, payload, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
		  FROM outbox_dlq
		 WHERE quarantined_at IS NULL
		   AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (dlqEntry, error) {
		var e dlqEntry
		err := row.Scan(&e.ID, &e.EventID, &e.EventType, &e.Topic, &e.Payload, &e.AggregateType, &e.AggregateID, &e.SchemaSubject, &e.PartitionKey, &e.RetryCount)
		return e, err
	})
}

// resolve decides the fate of one entry inside its own transaction and returns the outcome.
func (m *DLQManager) resolve(ctx context.Context, entry dlqEntry) (string, error) {
	var outcome string
	err := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if entry.RetryCount >= m.maxRetries {
			outcome = dlqOutcomeQuarantined
			_, err := tx.Exec(ctx,
				`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $2 WHERE dlq_id = $1`,
				entry.ID, fmt.Sprintf("gave up after %d retries", entry.RetryCount))
			return err
		}

		stale, err := supersededByDelivery(ctx, tx, entry)
		if err != nil {
			return err
		}
		if stale {
			outcome = dlqOutcomeSuperseded
			_, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
			return err
		}

		if reqErr := requeue(ctx, tx, entry); reqErr != nil {
			outcome = dlqOutcomeRetryLater
			_, err := tx.Exec(ctx, `
				UPDATE outbox_dlq
				   SET retry_count = retry_count + 1,
				       last_attempt_at = NOW(),
				       next_retry_at = NOW() + $2::interval,
				       reason = $3
				 WHERE dlq_id = $1`,
				entry.ID, m.backoffDelay(entry.RetryCount+1), reqErr.Error())
			return err
		}

		outcome = dlqOutcomeRequeued
		_, err = tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
		return err
	})
	return outcome, err
}

// supersededByDelivery reports whether a newer snapshot for the same aggregate has already
// been delivered. Rows that are themselves sitting in the DLQ do not count.
func supersededByDelivery(ctx context.Context, tx pgx.Tx, entry dlqEntry) (bool, error) {
	if !schemaCatalog[entry.EventType].Snapshot {
		return false, nil
	}
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM outbox o
			 WHERE o.event_type = $1
			   AND o.aggregate_id = $2
			   AND o.event_id > $3
			   AND o.published_at IS NOT NULL
			   AND NOT EXISTS (SELECT 1 FROM outbox_dlq d WHERE d.event_id = o.event_id)
		)`, entry.EventType, entry.AggregateID, entry.EventID).Scan(&exists)
	return exists, err
}

// backoffDelay doubles baseDelay per attempt up to maxDelay.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return m.maxDelay
	}
	delay := m.baseDelay << uint(attempt-1)
	if delay <= 0 || delay > m.maxDelay {
		return m.maxDelay
	}
	return delay
}

func requeue(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return errors.New("missing schema_subject")
	}
	if _, ok := schemaCatalog[entry.EventType]; !ok {
		return fmt.Errorf("no schema metadata for event_type=%s", entry.EventType)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic, entry.SchemaSubject, entry.PartitionKey, entry.Payload)
	return err
}

type dlqEntry struct {
	ID            int64
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}
