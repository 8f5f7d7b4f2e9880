package healthsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/fitbit"
)

// DomainStatus is the per-domain outcome of one cycle.
type DomainStatus string

const (
	StatusWritten     DomainStatus = "written"
	StatusUnavailable DomainStatus = "unavailable"
	StatusWriteFailed DomainStatus = "write_failed"
	// StatusEmpty means the upstream answered but had nothing to store for the date.
	StatusEmpty DomainStatus = "empty"
)

// Carry holds values from this cycle that the summary takes directly rather than re-reading.
type Carry struct {
	VO2Max  *string
	SpO2Avg *float64
}

// Writer normalizes upstream payloads into domain rows and upserts them by date.
type Writer struct {
	store  domain.RecordStore
	logger *log.Logger
}

// NewWriter constructs a Writer.
func NewWriter(store domain.RecordStore, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(log.Writer(), "[write] ", log.LstdFlags|log.Lshortfile)
	}
	return &Writer{store: store, logger: logger}
}

// WriteAll upserts every available domain of res. Each domain is independent: an unavailable
// read or a rejected write affects only that domain's status.
func (w *Writer) WriteAll(ctx context.Context, res FetchResult) (map[domain.HealthDomain]DomainStatus, Carry) {
	statuses := make(map[domain.HealthDomain]DomainStatus, len(domain.AllDomains))
	var carry Carry

	for _, d := range domain.AllDomains {
		if !res.Available(d) {
			statuses[d] = StatusUnavailable
		}
	}

	if res.Available(domain.DomainActivity) {
		statuses[domain.DomainActivity] = w.outcome(domain.DomainActivity, res.Date,
			w.WriteActivity(ctx, res.Date, res.Activity, res.ActivityRaw))
	}
	if res.Available(domain.DomainSleep) {
		statuses[domain.DomainSleep] = w.outcome(domain.DomainSleep, res.Date,
			w.WriteSleep(ctx, res.Date, res.Sleep, res.SleepRaw))
	}
	if res.Available(domain.DomainHeartRate) {
		statuses[domain.DomainHeartRate] = w.outcome(domain.DomainHeartRate, res.Date,
			w.WriteHeartRate(ctx, res.Date, res.HeartRate, res.HeartRateRaw))
	}
	if res.Available(domain.DomainWeight) {
		statuses[domain.DomainWeight] = w.outcome(domain.DomainWeight, res.Date,
			w.WriteWeight(ctx, res.Weight))
	}
	if res.Available(domain.DomainVO2Max) {
		if rec := normalizeVO2Max(res.Date, res.VO2Max, res.VO2MaxRaw); rec != nil {
			score := rec.Score
			carry.VO2Max = &score
		}
		statuses[domain.DomainVO2Max] = w.outcome(domain.DomainVO2Max, res.Date,
			w.WriteVO2Max(ctx, res.Date, res.VO2Max, res.VO2MaxRaw))
	}
	if res.Available(domain.DomainSpO2) {
		if rec := normalizeSpO2(res.Date, res.SpO2, res.SpO2Raw); rec != nil {
			avg := rec.Avg
			carry.SpO2Avg = &avg
		}
		statuses[domain.DomainSpO2] = w.outcome(domain.DomainSpO2, res.Date,
			w.WriteSpO2(ctx, res.Date, res.SpO2, res.SpO2Raw))
	}
	return statuses, carry
}

// errNothingToWrite marks a payload that normalizes to no row.
var errNothingToWrite = errors.New("nothing to write")

func (w *Writer) outcome(d domain.HealthDomain, date string, err error) DomainStatus {
	switch {
	case err == nil:
		return StatusWritten
	case errors.Is(err, errNothingToWrite):
		return StatusEmpty
	default:
		w.logger.Printf("%s write for %s failed: %v", d, date, err)
		return StatusWriteFailed
	}
}

// WriteActivity upserts the activity row for date.
func (w *Writer) WriteActivity(ctx context.Context, date string, resp *fitbit.ActivityResponse, raw json.RawMessage) error {
	if resp == nil {
		return errNothingToWrite
	}
	return writeFailed(w.store.UpsertActivity(ctx, normalizeActivity(date, resp, raw)))
}

// WriteSleep upserts the main sleep session for date. No session means no row.
func (w *Writer) WriteSleep(ctx context.Context, date string, resp *fitbit.SleepResponse, raw json.RawMessage) error {
	rec := normalizeSleep(date, resp, raw)
	if rec == nil {
		return errNothingToWrite
	}
	return writeFailed(w.store.UpsertSleep(ctx, *rec))
}

// WriteHeartRate upserts the heart rate row for date.
func (w *Writer) WriteHeartRate(ctx context.Context, date string, resp *fitbit.HeartRateResponse, raw json.RawMessage) error {
	if resp == nil {
		return errNothingToWrite
	}
	return writeFailed(w.store.UpsertHeartRate(ctx, normalizeHeartRate(date, resp, raw)))
}

// WriteWeight upserts each entry by its own date in response order, so a later entry for the
// same date overwrites an earlier one. The first failure stops the remaining entries.
func (w *Writer) WriteWeight(ctx context.Context, resp *fitbit.WeightResponse) error {
	recs := normalizeWeight(resp)
	if len(recs) == 0 {
		return errNothingToWrite
	}
	for _, rec := range recs {
		if err := w.store.UpsertWeight(ctx, rec); err != nil {
			return writeFailed(fmt.Errorf("weight %s (log %d): %w", rec.Date, rec.LogID, err))
		}
	}
	return nil
}

// WriteVO2Max upserts the cardio score for date. No score means no row.
func (w *Writer) WriteVO2Max(ctx context.Context, date string, resp *fitbit.CardioScoreResponse, raw json.RawMessage) error {
	rec := normalizeVO2Max(date, resp, raw)
	if rec == nil {
		return errNothingToWrite
	}
	return writeFailed(w.store.UpsertVO2Max(ctx, *rec))
}

// WriteSpO2 upserts the SpO2 summary for date. No sample means no row.
func (w *Writer) WriteSpO2(ctx context.Context, date string, resp *fitbit.SpO2Response, raw json.RawMessage) error {
	rec := normalizeSpO2(date, resp, raw)
	if rec == nil {
		return errNothingToWrite
	}
	return writeFailed(w.store.UpsertSpO2(ctx, *rec))
}

func writeFailed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
}

func normalizeActivity(date string, resp *fitbit.ActivityResponse, raw json.RawMessage) domain.ActivityRecord {
	s := resp.Summary
	return domain.ActivityRecord{
		Date:                 date,
		Steps:                s.Steps,
		Calories:             s.CaloriesOut,
		Distance:             s.TotalDistance(),
		Floors:               s.Floors,
		SedentaryMinutes:     s.SedentaryMinutes,
		LightlyActiveMinutes: s.LightlyActiveMinutes,
		FairlyActiveMinutes:  s.FairlyActiveMinutes,
		VeryActiveMinutes:    s.VeryActiveMinutes,
		Raw:                  raw,
	}
}

func normalizeSleep(date string, resp *fitbit.SleepResponse, raw json.RawMessage) *domain.SleepRecord {
	if resp == nil {
		return nil
	}
	main := resp.MainSleep()
	if main == nil {
		return nil
	}
	return &domain.SleepRecord{
		Date:            date,
		StartTime:       main.StartTime,
		EndTime:         main.EndTime,
		DurationMinutes: int(main.Duration / 60000),
		MinutesAsleep:   main.MinutesAsleep,
		Efficiency:      main.Efficiency,
		DeepMinutes:     main.StageMinutes("deep"),
		LightMinutes:    main.StageMinutes("light"),
		RemMinutes:      main.StageMinutes("rem"),
		WakeMinutes:     main.StageMinutes("wake"),
		Raw:             raw,
	}
}

func normalizeHeartRate(date string, resp *fitbit.HeartRateResponse, raw json.RawMessage) domain.HeartRateRecord {
	rec := domain.HeartRateRecord{Date: date, Raw: raw}
	if len(resp.ActivitiesHeart) == 0 {
		return rec
	}
	day := resp.ActivitiesHeart[0]
	rec.RestingHeartRate = day.Value.RestingHeartRate
	rec.OutOfRangeMinutes = day.ZoneMinutes("Out of Range")
	rec.FatBurnMinutes = day.ZoneMinutes("Fat Burn")
	rec.CardioMinutes = day.ZoneMinutes("Cardio")
	rec.PeakMinutes = day.ZoneMinutes("Peak")
	return rec
}

func normalizeWeight(resp *fitbit.WeightResponse) []domain.WeightRecord {
	if resp == nil {
		return nil
	}
	out := make([]domain.WeightRecord, 0, len(resp.Weight))
	for _, entry := range resp.Weight {
		if entry.Date == "" {
			continue
		}
		out = append(out, domain.WeightRecord{
			Date:    entry.Date,
			Weight:  entry.Weight,
			BMI:     entry.BMI,
			BodyFat: entry.Fat,
			LogID:   entry.LogID,
			Raw:     entry.Raw,
		})
	}
	return out
}

func normalizeVO2Max(date string, resp *fitbit.CardioScoreResponse, raw json.RawMessage) *domain.VO2MaxRecord {
	if resp == nil || len(resp.CardioScore) == 0 {
		return nil
	}
	score := resp.CardioScore[0].Score()
	if score == "" {
		return nil
	}
	return &domain.VO2MaxRecord{Date: date, Score: score, Raw: raw}
}

func normalizeSpO2(date string, resp *fitbit.SpO2Response, raw json.RawMessage) *domain.SpO2Record {
	if resp == nil || resp.Value == nil {
		return nil
	}
	return &domain.SpO2Record{
		Date: date,
		Avg:  resp.Value.Avg,
		Min:  resp.Value.Min,
		Max:  resp.Value.Max,
		Raw:  raw,
	}
}
