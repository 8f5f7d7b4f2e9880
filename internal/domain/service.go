// Package domain defines the health entities, store contracts and read-side queries of the dashboard.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAuthenticated indicates no OAuth credential has been stored yet.
	ErrNotAuthenticated = errors.New("fitbit account not connected")
	// ErrRefreshFailed indicates the upstream token endpoint rejected the refresh token.
	ErrRefreshFailed = errors.New("fitbit token refresh failed")
	// ErrDomainUnavailable marks an upstream domain fetch that failed or returned non-success.
	ErrDomainUnavailable = errors.New("upstream domain unavailable")
	// ErrWriteFailed marks a store rejection of a domain upsert.
	ErrWriteFailed = errors.New("domain write failed")
	// ErrSummaryNotFound is returned when no summary exists for the requested date.
	ErrSummaryNotFound = errors.New("daily summary not found")
)

// NeedsReconnect reports whether err can only be resolved by the user connecting the account again.
func NeedsReconnect(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrRefreshFailed)
}

// CredentialStore persists the singleton OAuth credential.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*Credential, error)
	SaveCredential(ctx context.Context, cred Credential) error
}

// RecordStore upserts and reads the per-domain daily rows.
// Every Upsert overwrites the row for the record's date.
type RecordStore interface {
	UpsertActivity(ctx context.Context, rec ActivityRecord) error
	UpsertSleep(ctx context.Context, rec SleepRecord) error
	UpsertHeartRate(ctx context.Context, rec HeartRateRecord) error
	UpsertWeight(ctx context.Context, rec WeightRecord) error
	UpsertVO2Max(ctx context.Context, rec VO2MaxRecord) error
	UpsertSpO2(ctx context.Context, rec SpO2Record) error

	GetActivity(ctx context.Context, date string) (*ActivityRecord, error)
	GetSleep(ctx context.Context, date string) (*SleepRecord, error)
	GetHeartRate(ctx context.Context, date string) (*HeartRateRecord, error)
	GetWeight(ctx context.Context, date string) (*WeightRecord, error)
	GetVO2Max(ctx context.Context, date string) (*VO2MaxRecord, error)
	GetSpO2(ctx context.Context, date string) (*SpO2Record, error)
}

// SummaryStore reads and writes DailySummary rows. Only the aggregator writes.
type SummaryStore interface {
	UpsertDailySummary(ctx context.Context, summary DailySummary) error
	GetDailySummary(ctx context.Context, date string) (*DailySummary, error)
}

// ReportStateStore tracks the last date a narrative report was posted for. ClaimReport takes a
// lease on posting date so that only one process posts it; the lease expires after lease unless
// ReleaseReport drops it first. The last report date itself only moves on a successful post.
type ReportStateStore interface {
	GetLastReportDate(ctx context.Context) (string, error)
	SetLastReportDate(ctx context.Context, date string) error
	ClaimReport(ctx context.Context, date string, lease time.Duration) (bool, error)
	ReleaseReport(ctx context.Context, date string) error
}

// HistoryStore lists rows over a date range, newest first.
type HistoryStore interface {
	ListDailySummaries(ctx context.Context, r DateRange) ([]DailySummary, error)
	ListActivity(ctx context.Context, r DateRange) ([]ActivityRecord, error)
	ListSleep(ctx context.Context, r DateRange) ([]SleepRecord, error)
	ListHeartRate(ctx context.Context, r DateRange) ([]HeartRateRecord, error)
	ListWeight(ctx context.Context, r DateRange) ([]WeightRecord, error)
}

// Store is the full persistence surface implemented by the postgres and memory repositories.
type Store interface {
	CredentialStore
	RecordStore
	SummaryStore
	ReportStateStore
	HistoryStore
}

// Service answers the read API.
type Service struct {
	history   HistoryStore
	summaries SummaryStore
	now       func() time.Time
	location  *time.Location
}

// NewService constructs a Service. Dates default relative to now in loc.
func NewService(history HistoryStore, summaries SummaryStore, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{history: history, summaries: summaries, now: time.Now, location: loc}
}

// Today returns the current calendar date in the service's time zone.
func (s *Service) Today() time.Time {
	now := s.now().In(s.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
}

// GetSummary fetches the summary for one date.
func (s *Service) GetSummary(ctx context.Context, date string) (*DailySummary, error) {
	summary, err := s.summaries.GetDailySummary(ctx, date)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, ErrSummaryNotFound
	}
	return summary, nil
}

// ListSummaries returns the summaries within r.
func (s *Service) ListSummaries(ctx context.Context, r DateRange) ([]DailySummary, error) {
	return s.history.ListDailySummaries(ctx, r)
}

// ListActivity returns activity rows within r.
func (s *Service) ListActivity(ctx context.Context, r DateRange) ([]ActivityRecord, error) {
	return s.history.ListActivity(ctx, r)
}

// ListSleep returns sleep rows within r.
func (s *Service) ListSleep(ctx context.Context, r DateRange) ([]SleepRecord, error) {
	return s.history.ListSleep(ctx, r)
}

// ListHeartRate returns heart-rate rows within r.
func (s *Service) ListHeartRate(ctx context.Context, r DateRange) ([]HeartRateRecord, error) {
	return s.history.ListHeartRate(ctx, r)
}

// ListWeight returns weight rows within r.
func (s *Service) ListWeight(ctx context.Context, r DateRange) ([]WeightRecord, error) {
	return s.history.ListWeight(ctx, r)
}
