package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	dlqOutcomeRequeued    = "requeued"
	dlqOutcomeSuperseded  = "superseded"
	dlqOutcomeQuarantined = "quarantined"
	dlqOutcomeRetryLater  = "retry_scheduled"
)

var (
	dlqEntriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "DLQ entries handled by the manager, grouped by outcome.",
	}, []string{"outcome", "event_type"})

	dlqBacklogGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "healthdash",
		Subsystem: "dlq",
		Name:      "entries",
		Help:      "Rows currently in outbox_dlq, split into waiting and quarantined.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(dlqEntriesCounter, dlqBacklogGauge)
}

func recordDLQOutcome(outcome, eventType string) {
	dlqEntriesCounter.WithLabelValues(outcome, eventType).Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	var waiting, quarantined int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE quarantined_at IS NULL),
		       COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
		FROM outbox_dlq`).Scan(&waiting, &quarantined)
	if err != nil {
		return
	}
	dlqBacklogGauge.WithLabelValues("waiting").Set(float64(waiting))
	dlqBacklogGauge.WithLabelValues("quarantined").Set(float64(quarantined))
}
