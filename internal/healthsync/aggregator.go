package healthsync

import (
	"context"
	"fmt"
	"log"
	"time"

	"example.com/healthdash/internal/domain"
)

// Aggregator recomputes the daily summary from the persisted domain rows.
type Aggregator struct {
	records   domain.RecordStore
	summaries domain.SummaryStore
	now       func() time.Time
	logger    *log.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(records domain.RecordStore, summaries domain.SummaryStore, now func() time.Time, logger *log.Logger) *Aggregator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[aggregate] ", log.LstdFlags|log.Lshortfile)
	}
	return &Aggregator{records: records, summaries: summaries, now: now, logger: logger}
}

// UpdateDailySummary rebuilds the summary for date from the stored activity, sleep, heart rate
// and weight rows. VO2max and SpO2 come from carry, falling back to the stored rows when this
// cycle produced none. Missing or unreadable rows contribute zero or null.
func (a *Aggregator) UpdateDailySummary(ctx context.Context, date string, carry Carry) (domain.DailySummary, error) {
	summary := domain.DailySummary{Date: date}

	if act := readRow(ctx, a, "activity", date, a.records.GetActivity); act != nil {
		summary.Steps = act.Steps
		summary.Calories = act.Calories
		summary.Distance = act.Distance
		summary.ActiveMinutes = act.FairlyActiveMinutes + act.VeryActiveMinutes
	}
	if sl := readRow(ctx, a, "sleep", date, a.records.GetSleep); sl != nil {
		summary.SleepDurationMinutes = sl.DurationMinutes
		eff := sl.Efficiency
		summary.SleepEfficiency = &eff
	}
	if hr := readRow(ctx, a, "heart_rate", date, a.records.GetHeartRate); hr != nil {
		summary.RestingHeartRate = hr.RestingHeartRate
	}
	if wt := readRow(ctx, a, "weight", date, a.records.GetWeight); wt != nil {
		w := wt.Weight
		summary.Weight = &w
	}

	summary.VO2Max = carry.VO2Max
	if summary.VO2Max == nil {
		if v := readRow(ctx, a, "vo2max", date, a.records.GetVO2Max); v != nil {
			score := v.Score
			summary.VO2Max = &score
		}
	}
	summary.SpO2Avg = carry.SpO2Avg
	if summary.SpO2Avg == nil {
		if s := readRow(ctx, a, "spo2", date, a.records.GetSpO2); s != nil {
			avg := s.Avg
			summary.SpO2Avg = &avg
		}
	}

	summary.UpdatedAt = a.now().UTC()
	if err := a.summaries.UpsertDailySummary(ctx, summary); err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: daily summary %s: %v", domain.ErrWriteFailed, date, err)
	}
	return summary, nil
}

func readRow[T any](ctx context.Context, a *Aggregator, name, date string, get func(context.Context, string) (*T, error)) *T {
	row, err := get(ctx, date)
	if err != nil {
		a.logger.Printf("read %s for %s: %v (treated as absent)", name, date, err)
		return nil
	}
	return row
}
