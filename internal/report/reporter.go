// Package report posts a once-per-day narrative of the previous day's health summary.
package report

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"example.com/healthdash/internal/chat"
	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/insights"
	"example.com/healthdash/internal/observability"
)

// Outcome describes how a report attempt ended.
type Outcome string

const (
	OutcomePosted              Outcome = "posted"
	OutcomeAlreadyReported     Outcome = "already_reported"
	OutcomeNoSummary           Outcome = "no_summary"
	OutcomeInsightsUnavailable Outcome = "insights_unavailable"
	OutcomePostFailed          Outcome = "post_failed"
	OutcomeStateError          Outcome = "state_error"
	OutcomeNoChannel           Outcome = "no_channel"
	OutcomeClaimedElsewhere    Outcome = "claimed_elsewhere"
)

// DefaultClaimLease bounds how long a crashed poster can block the day's report.
const DefaultClaimLease = 10 * time.Minute

// InsightGenerator produces a narrative for one summary.
type InsightGenerator interface {
	Generate(ctx context.Context, summary domain.DailySummary) (insights.Insights, error)
}

// Reporter decides whether a day's report is due and posts it.
type Reporter struct {
	state     domain.ReportStateStore
	summaries domain.SummaryStore
	insights  InsightGenerator
	poster    chat.Poster
	lease     time.Duration
	logger    *log.Logger

	// mu serialises attempts within the process.
	mu sync.Mutex
}

// Option configures optional behaviour for the Reporter.
type Option func(*Reporter)

// WithLogger overrides the reporter logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// WithClaimLease overrides DefaultClaimLease.
func WithClaimLease(lease time.Duration) Option {
	return func(r *Reporter) {
		r.lease = lease
	}
}

// NewReporter constructs a Reporter.
func NewReporter(state domain.ReportStateStore, summaries domain.SummaryStore, gen InsightGenerator, poster chat.Poster, opts ...Option) *Reporter {
	r := &Reporter{
		state:     state,
		summaries: summaries,
		insights:  gen,
		poster:    poster,
		lease:     DefaultClaimLease,
		logger:    log.New(log.Writer(), "[report] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaybePostDailyReport posts the report for date unless it was already posted. The last
// report date advances only after a successful post, so every skipped outcome is retried
// on the next trigger.
func (r *Reporter) MaybePostDailyReport(ctx context.Context, date string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := r.attempt(ctx, date)
	observability.RecordReport(string(outcome))
	if outcome != OutcomeAlreadyReported && outcome != OutcomeNoChannel {
		r.logger.Printf("report for %s: %s", date, outcome)
	}
	return outcome
}

func (r *Reporter) attempt(ctx context.Context, date string) Outcome {
	if !chat.Configured(r.poster) {
		return OutcomeNoChannel
	}

	reported, err := r.alreadyReported(ctx, date)
	if err != nil {
		return OutcomeStateError
	}
	if reported {
		return OutcomeAlreadyReported
	}

	summary, err := r.summaries.GetDailySummary(ctx, date)
	if err != nil {
		r.logger.Printf("read summary for %s: %v", date, err)
		return OutcomeNoSummary
	}
	if summary == nil {
		return OutcomeNoSummary
	}

	claimed, err := r.state.ClaimReport(ctx, date, r.lease)
	if err != nil {
		r.logger.Printf("claim report %s: %v", date, err)
		return OutcomeStateError
	}
	if !claimed {
		return OutcomeClaimedElsewhere
	}
	// Another process may have posted between the first read and the claim.
	reported, err = r.alreadyReported(ctx, date)
	if err != nil {
		return OutcomeStateError
	}
	if reported {
		return OutcomeAlreadyReported
	}

	result, err := r.insights.Generate(ctx, *summary)
	if err != nil {
		if !errors.Is(err, insights.ErrUnavailable) {
			r.logger.Printf("generate insights for %s: %v", date, err)
		}
		r.release(ctx, date)
		return OutcomeInsightsUnavailable
	}

	if !r.poster.Post(ctx, FormatMessage(*summary, result)) {
		r.release(ctx, date)
		return OutcomePostFailed
	}

	// The claim is kept after posting; it stops a duplicate until the date is recorded.
	if err := r.state.SetLastReportDate(ctx, date); err != nil {
		r.logger.Printf("record report date %s: %v", date, err)
		return OutcomeStateError
	}
	return OutcomePosted
}

func (r *Reporter) alreadyReported(ctx context.Context, date string) (bool, error) {
	last, err := r.state.GetLastReportDate(ctx)
	if err != nil {
		r.logger.Printf("read last report date: %v", err)
		return false, err
	}
	return last == date, nil
}

func (r *Reporter) release(ctx context.Context, date string) {
	if err := r.state.ReleaseReport(ctx, date); err != nil {
		r.logger.Printf("release report claim %s: %v", date, err)
	}
}
