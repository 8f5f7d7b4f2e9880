package healthsync

import (
	"context"
	"fmt"
	"log"
	"time"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/errtrack"
	"example.com/healthdash/internal/observability"
)

// State is a stage of the sync cycle.
type State string

const (
	StateAcquiringToken State = "acquiring_token"
	StateFetching       State = "fetching"
	StateWriting        State = "writing"
	StateAggregating    State = "aggregating"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// TokenSource yields an access token valid right now.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// Store is what a cycle writes to and re-reads from.
type Store interface {
	domain.RecordStore
	domain.SummaryStore
}

// Result describes one finished cycle.
type Result struct {
	Date         string                               `json:"date"`
	State        State                                `json:"state"`
	Reason       string                               `json:"reason,omitempty"`
	Domains      map[domain.HealthDomain]DomainStatus `json:"domains,omitempty"`
	Summary      *domain.DailySummary                 `json:"summary,omitempty"`
	SummaryError string                               `json:"summary_error,omitempty"`
	StartedAt    time.Time                            `json:"started_at"`
	FinishedAt   time.Time                            `json:"finished_at"`
}

// Option configures optional behaviour for the Syncer.
type Option func(*Syncer)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// WithLocation sets the time zone used to resolve "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Syncer) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithWeightPeriod overrides the weight log window.
func WithWeightPeriod(period string) Option {
	return func(s *Syncer) {
		s.weightPeriod = period
	}
}

// WithErrorCapture overrides where unexpected failures are reported.
func WithErrorCapture(capture func(error, map[string]string)) Option {
	return func(s *Syncer) {
		s.capture = capture
	}
}

// Syncer runs reconciliation cycles for one user.
type Syncer struct {
	tokens       TokenSource
	upstream     Upstream
	store        Store
	userID       string
	weightPeriod string
	location     *time.Location
	now          func() time.Time
	logger       *log.Logger
	capture      func(error, map[string]string)

	fetcher    *Fetcher
	writer     *Writer
	aggregator *Aggregator
}

// NewSyncer constructs a Syncer.
func NewSyncer(tokens TokenSource, upstream Upstream, store Store, userID string, opts ...Option) *Syncer {
	s := &Syncer{
		tokens:       tokens,
		upstream:     upstream,
		store:        store,
		userID:       userID,
		weightPeriod: DefaultWeightPeriod,
		location:     time.UTC,
		now:          time.Now,
		logger:       log.New(log.Writer(), "[sync] ", log.LstdFlags|log.Lshortfile),
		capture:      errtrack.Capture,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fetcher = NewFetcher(upstream, s.weightPeriod, s.logger)
	s.writer = NewWriter(store, s.logger)
	s.aggregator = NewAggregator(store, store, s.now, s.logger)
	return s
}

// Today returns the current date string in the configured time zone.
func (s *Syncer) Today() string {
	return s.now().In(s.location).Format(domain.DateLayout)
}

// Sync runs one cycle for date. It returns an error only when no access token could be
// obtained; fetch and write problems are reported per domain in the Result.
func (s *Syncer) Sync(ctx context.Context, date string) (Result, error) {
	res := Result{Date: date, State: StateAcquiringToken, StartedAt: s.now().UTC()}
	defer func() {
		res.FinishedAt = s.now().UTC()
		observability.RecordSyncCycle(string(res.State), res.FinishedAt.Sub(res.StartedAt))
	}()

	token, err := s.tokens.GetValidAccessToken(ctx, s.userID)
	if err != nil {
		res.State = StateFailed
		res.Reason = err.Error()
		if !domain.NeedsReconnect(err) {
			s.capture(err, map[string]string{"stage": string(StateAcquiringToken), "date": date})
		}
		s.logger.Printf("sync %s aborted: %v", date, err)
		return res, fmt.Errorf("acquire token: %w", err)
	}

	res.State = StateFetching
	fetched := s.fetcher.Fetch(ctx, token, date)

	res.State = StateWriting
	statuses, carry := s.writer.WriteAll(ctx, fetched)
	res.Domains = statuses
	for d, st := range statuses {
		observability.RecordDomainResult(string(d), string(st))
		if st == StatusWriteFailed {
			s.capture(fmt.Errorf("%w: %s on %s", domain.ErrWriteFailed, d, date),
				map[string]string{"stage": string(StateWriting), "domain": string(d)})
		}
	}

	res.State = StateAggregating
	summary, err := s.aggregator.UpdateDailySummary(ctx, date, carry)
	if err != nil {
		res.SummaryError = err.Error()
		s.capture(err, map[string]string{"stage": string(StateAggregating), "date": date})
		s.logger.Printf("summary for %s not updated: %v", date, err)
	} else {
		res.Summary = &summary
		observability.RecordSummaryUpdated(summary.UpdatedAt)
	}

	res.State = StateDone
	s.logger.Printf("sync %s done: %v", date, statuses)
	return res, nil
}

// SyncRecent syncs the last days dates ending today, oldest first. A token failure stops the
// run and is returned together with the cycles that completed before it.
func (s *Syncer) SyncRecent(ctx context.Context, days int) ([]Result, error) {
	if days < 1 {
		days = 1
	}
	today := s.now().In(s.location)
	results := make([]Result, 0, days)
	for i := days - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		date := today.AddDate(0, 0, -i).Format(domain.DateLayout)
		res, err := s.Sync(ctx, date)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
