// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"example.com/healthdash/internal/domain"
)

// Repository keeps every table in maps keyed by date. It implements domain.Store.
type Repository struct {
	mu          sync.RWMutex
	credentials map[string]domain.Credential
	activity    map[string]domain.ActivityRecord
	sleep       map[string]domain.SleepRecord
	heartRate   map[string]domain.HeartRateRecord
	weight      map[string]domain.WeightRecord
	vo2max      map[string]domain.VO2MaxRecord
	spo2        map[string]domain.SpO2Record
	summaries   map[string]domain.DailySummary
	lastReport  string
	claimDate   string
	claimUntil  time.Time
	now         func() time.Time
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		credentials: make(map[string]domain.Credential),
		activity:    make(map[string]domain.ActivityRecord),
		sleep:       make(map[string]domain.SleepRecord),
		heartRate:   make(map[string]domain.HeartRateRecord),
		weight:      make(map[string]domain.WeightRecord),
		vo2max:      make(map[string]domain.VO2MaxRecord),
		spo2:        make(map[string]domain.SpO2Record),
		summaries:   make(map[string]domain.DailySummary),
		now:         time.Now,
	}
}

// GetCredential implements domain.CredentialStore.
func (r *Repository) GetCredential(ctx context.Context, userID string) (*domain.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.credentials[userID]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

// SaveCredential implements domain.CredentialStore.
func (r *Repository) SaveCredential(ctx context.Context, cred domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}
	r.credentials[cred.UserID] = cred
	return nil
}

// UpsertActivity implements domain.RecordStore.
func (r *Repository) UpsertActivity(ctx context.Context, rec domain.ActivityRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Raw = cloneRaw(rec.Raw)
	r.activity[rec.Date] = rec
	return nil
}

// UpsertSleep implements domain.RecordStore.
func (r *Repository) UpsertSleep(ctx context.Context, rec domain.SleepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Raw = cloneRaw(rec.Raw)
	r.sleep[rec.Date] = rec
	return nil
}

// UpsertHeartRate implements domain.RecordStore.
func (r *Repository) UpsertHeartRate(ctx context.Context, rec domain.HeartRateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Raw = cloneRaw(rec.Raw)
	r.heartRate[rec.Date] = rec
	return nil
}

// UpsertWeight implements domain.RecordStore.
func (r *Repository) UpsertWeight(ctx context.Context, rec domain.WeightRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Raw = cloneRaw(rec.Raw)
	r.weight[rec.Date] = rec
	return nil
}

// UpsertVO2Max implements domain.RecordStore.
func (r *Repository) UpsertVO2Max(ctx context.Context, rec domain.VO2MaxRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Raw = cloneRaw(rec.Raw)
	r.vo2max[rec.Date] = rec
	return nil
}

// UpsertSpO2 implements domain.RecordStore.
func (r *Repository) UpsertSpO2(ctx context.Context, rec domain.SpO2Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Raw = cloneRaw(rec.Raw)
	r.spo2[rec.Date] = rec
	return nil
}

// GetActivity implements domain.RecordStore.
func (r *Repository) GetActivity(ctx context.Context, date string) (*domain.ActivityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.activity, date), nil
}

// GetSleep implements domain.RecordStore.
func (r *Repository) GetSleep(ctx context.Context, date string) (*domain.SleepRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.sleep, date), nil
}

// GetHeartRate implements domain.RecordStore.
func (r *Repository) GetHeartRate(ctx context.Context, date string) (*domain.HeartRateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.heartRate, date), nil
}

// GetWeight implements domain.RecordStore.
func (r *Repository) GetWeight(ctx context.Context, date string) (*domain.WeightRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.weight, date), nil
}

// GetVO2Max implements domain.RecordStore.
func (r *Repository) GetVO2Max(ctx context.Context, date string) (*domain.VO2MaxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.vo2max, date), nil
}

// GetSpO2 implements domain.RecordStore.
func (r *Repository) GetSpO2(ctx context.Context, date string) (*domain.SpO2Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.spo2, date), nil
}

// UpsertDailySummary implements domain.SummaryStore.
func (r *Repository) UpsertDailySummary(ctx context.Context, summary domain.DailySummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now().UTC()
	}
	r.summaries[summary.Date] = summary
	return nil
}

// GetDailySummary implements domain.SummaryStore.
func (r *Repository) GetDailySummary(ctx context.Context, date string) (*domain.DailySummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.summaries, date), nil
}

// GetLastReportDate implements domain.ReportStateStore.
func (r *Repository) GetLastReportDate(ctx context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastReport, nil
}

// SetLastReportDate implements domain.ReportStateStore.
func (r *Repository) SetLastReportDate(ctx context.Context, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastReport = date
	return nil
}

// ClaimReport implements domain.ReportStateStore.
func (r *Repository) ClaimReport(ctx context.Context, date string, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.claimDate == date && now.Before(r.claimUntil) {
		return false, nil
	}
	r.claimDate, r.claimUntil = date, now.Add(lease)
	return true, nil
}

// ReleaseReport implements domain.ReportStateStore.
func (r *Repository) ReleaseReport(ctx context.Context, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimDate == date {
		r.claimDate, r.claimUntil = "", time.Time{}
	}
	return nil
}

// ListDailySummaries implements domain.HistoryStore.
func (r *Repository) ListDailySummaries(ctx context.Context, rng domain.DateRange) ([]domain.DailySummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return inRange(r.summaries, rng), nil
}

// ListActivity implements domain.HistoryStore.
func (r *Repository) ListActivity(ctx context.Context, rng domain.DateRange) ([]domain.ActivityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return inRange(r.activity, rng), nil
}

// ListSleep implements domain.HistoryStore.
func (r *Repository) ListSleep(ctx context.Context, rng domain.DateRange) ([]domain.SleepRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return inRange(r.sleep, rng), nil
}

// ListHeartRate implements domain.HistoryStore.
func (r *Repository) ListHeartRate(ctx context.Context, rng domain.DateRange) ([]domain.HeartRateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return inRange(r.heartRate, rng), nil
}

// ListWeight implements domain.HistoryStore.
func (r *Repository) ListWeight(ctx context.Context, rng domain.DateRange) ([]domain.WeightRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return inRange(r.weight, rng), nil
}

// Count returns the number of rows held for d. It is a test and local-debugging helper; the
// postgres store has no counterpart and no production code path calls it.
func (r *Repository) Count(d domain.HealthDomain) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch d {
	case domain.DomainActivity:
		return len(r.activity)
	case domain.DomainSleep:
		return len(r.sleep)
	case domain.DomainHeartRate:
		return len(r.heartRate)
	case domain.DomainWeight:
		return len(r.weight)
	case domain.DomainVO2Max:
		return len(r.vo2max)
	case domain.DomainSpO2:
		return len(r.spo2)
	}
	return 0
}

func lookup[T any](table map[string]T, date string) *T {
	row, ok := table[date]
	if !ok {
		return nil
	}
	return &row
}

// inRange returns the rows whose date key falls in rng, newest first.
// ISO dates compare correctly as strings.
func inRange[T any](table map[string]T, rng domain.DateRange) []T {
	keys := make([]string, 0, len(table))
	for date := range table {
		if date >= rng.From && date <= rng.To {
			keys = append(keys, date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, table[k])
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
