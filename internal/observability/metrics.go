package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "sync",
		Name:      "cycles_total",
		Help:      "Sync cycles grouped by final state.",
	}, []string{"state"})
	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "healthdash",
		Subsystem: "sync",
		Name:      "cycle_duration_seconds",
		Help:      "Wall-clock duration of one sync cycle.",
		Buckets:   prometheus.DefBuckets,
	})
	domainResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "sync",
		Name:      "domain_results_total",
		Help:      "Per-domain outcomes of sync cycles.",
	}, []string{"domain", "status"})
	summaryUpdatedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthdash",
		Subsystem: "persistence",
		Name:      "last_summary_updated_timestamp_seconds",
		Help:      "Unix timestamp of the most recent daily summary recomputation.",
	})
	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "credentials",
		Name:      "refreshes_total",
		Help:      "Access token refresh attempts grouped by outcome.",
	}, []string{"outcome"})
	reports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "report",
		Name:      "attempts_total",
		Help:      "Daily report attempts grouped by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(syncCycles, syncDuration, domainResults, summaryUpdatedGauge, tokenRefreshes, reports)
}

// RecordSyncCycle counts one finished cycle and its duration.
func RecordSyncCycle(state string, elapsed time.Duration) {
	syncCycles.WithLabelValues(state).Inc()
	syncDuration.Observe(elapsed.Seconds())
}

// RecordDomainResult counts the outcome of one domain within a cycle.
func RecordDomainResult(domain, status string) {
	domainResults.WithLabelValues(domain, status).Inc()
}

// RecordSummaryUpdated updates the summary watermark gauge.
func RecordSummaryUpdated(ts time.Time) {
	if ts.IsZero() {
		return
	}
	summaryUpdatedGauge.Set(float64(ts.Unix()))
}

// RecordTokenRefresh counts a refresh attempt.
func RecordTokenRefresh(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordReport counts a report attempt by outcome.
func RecordReport(outcome string) {
	reports.WithLabelValues(outcome).Inc()
}
