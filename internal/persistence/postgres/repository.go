package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/events"
)

const (
	lastReportDateKey = "last_report_date"
	reportClaimKey    = "report_claim"
)

// Option configures optional behaviour for the Repository.
type Option func(*Repository)

// WithSummaryTopic overrides the topic summary events are routed to.
func WithSummaryTopic(topic string) Option {
	return func(r *Repository) {
		if topic != "" {
			r.summaryTopic = topic
		}
	}
}

// Repository provides Postgres-backed persistence for health records, the credential,
// report state and outbox events. It implements domain.Store.
type Repository struct {
	pool         *pgxpool.Pool
	summaryTopic string
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, summaryTopic: events.TopicSummaryEvents}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetCredential loads the credential row for userID, or nil when none is stored.
func (r *Repository) GetCredential(ctx context.Context, userID string) (*domain.Credential, error) {
	const query = `SELECT user_id, access_token, refresh_token, expires_at, scope, updated_at
        FROM oauth_credentials WHERE user_id=$1`

	var cred domain.Credential
	err := r.pool.QueryRow(ctx, query, userID).Scan(&cred.UserID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt, &cred.Scope, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

// SaveCredential overwrites the credential row for cred.UserID.
func (r *Repository) SaveCredential(ctx context.Context, cred domain.Credential) error {
	const stmt = `INSERT INTO oauth_credentials (user_id, access_token, refresh_token, expires_at, scope, updated_at)
        VALUES ($1,$2,$3,$4,$5,COALESCE($6, NOW()))
        ON CONFLICT (user_id) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            scope = EXCLUDED.scope,
            updated_at = EXCLUDED.updated_at`

	var updatedAt interface{}
	if !cred.UpdatedAt.IsZero() {
		updatedAt = cred.UpdatedAt
	}
	_, err := r.pool.Exec(ctx, stmt, cred.UserID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, cred.Scope, updatedAt)
	return err
}

// UpsertActivity writes the activity row for rec.Date.
func (r *Repository) UpsertActivity(ctx context.Context, rec domain.ActivityRecord) error {
	const stmt = `INSERT INTO activity_records (date, steps, calories, distance, floors, sedentary_minutes, lightly_active_minutes, fairly_active_minutes, very_active_minutes, raw, updated_at)
        VALUES ($1::date,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
        ON CONFLICT (date) DO UPDATE SET
            steps = EXCLUDED.steps,
            calories = EXCLUDED.calories,
            distance = EXCLUDED.distance,
            floors = EXCLUDED.floors,
            sedentary_minutes = EXCLUDED.sedentary_minutes,
            lightly_active_minutes = EXCLUDED.lightly_active_minutes,
            fairly_active_minutes = EXCLUDED.fairly_active_minutes,
            very_active_minutes = EXCLUDED.very_active_minutes,
            raw = EXCLUDED.raw,
            updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt,
		rec.Date,
		rec.Steps,
		rec.Calories,
		rec.Distance,
		rec.Floors,
		rec.SedentaryMinutes,
		rec.LightlyActiveMinutes,
		rec.FairlyActiveMinutes,
		rec.VeryActiveMinutes,
		nullableJSON(rec.Raw),
	)
	return err
}

// UpsertSleep writes the sleep row for rec.Date.
func (r *Repository) UpsertSleep(ctx context.Context, rec domain.SleepRecord) error {
	const stmt = `INSERT INTO sleep_records (date, start_time, end_time, duration_minutes, minutes_asleep, efficiency, deep_minutes, light_minutes, rem_minutes, wake_minutes, raw, updated_at)
        VALUES ($1::date,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
        ON CONFLICT (date) DO UPDATE SET
            start_time = EXCLUDED.start_time,
            end_time = EXCLUDED.end_time,
            duration_minutes = EXCLUDED.duration_minutes,
            minutes_asleep = EXCLUDED.minutes_asleep,
            efficiency = EXCLUDED.efficiency,
            deep_minutes = EXCLUDED.deep_minutes,
            light_minutes = EXCLUDED.light_minutes,
            rem_minutes = EXCLUDED.rem_minutes,
            wake_minutes = EXCLUDED.wake_minutes,
            raw = EXCLUDED.raw,
            updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt,
		rec.Date,
		rec.StartTime,
		rec.EndTime,
		rec.DurationMinutes,
		rec.MinutesAsleep,
		rec.Efficiency,
		rec.DeepMinutes,
		rec.LightMinutes,
		rec.RemMinutes,
		rec.WakeMinutes,
		nullableJSON(rec.Raw),
	)
	return err
}

// UpsertHeartRate writes the heart rate row for rec.Date.
func (r *Repository) UpsertHeartRate(ctx context.Context, rec domain.HeartRateRecord) error {
	const stmt = `INSERT INTO heart_rate_records (date, resting_heart_rate, out_of_range_minutes, fat_burn_minutes, cardio_minutes, peak_minutes, raw, updated_at)
        VALUES ($1::date,$2,$3,$4,$5,$6,$7,NOW())
        ON CONFLICT (date) DO UPDATE SET
            resting_heart_rate = EXCLUDED.resting_heart_rate,
            out_of_range_minutes = EXCLUDED.out_of_range_minutes,
            fat_burn_minutes = EXCLUDED.fat_burn_minutes,
            cardio_minutes = EXCLUDED.cardio_minutes,
            peak_minutes = EXCLUDED.peak_minutes,
            raw = EXCLUDED.raw,
            updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt,
		rec.Date,
		rec.RestingHeartRate,
		rec.OutOfRangeMinutes,
		rec.FatBurnMinutes,
		rec.CardioMinutes,
		rec.PeakMinutes,
		nullableJSON(rec.Raw),
	)
	return err
}

// UpsertWeight writes the weight row for rec.Date.
func (r *Repository) UpsertWeight(ctx context.Context, rec domain.WeightRecord) error {
	const stmt = `INSERT INTO weight_records (date, weight, bmi, body_fat, log_id, raw, updated_at)
        VALUES ($1::date,$2,$3,$4,$5,$6,NOW())
        ON CONFLICT (date) DO UPDATE SET
            weight = EXCLUDED.weight,
            bmi = EXCLUDED.bmi,
            body_fat = EXCLUDED.body_fat,
            log_id = EXCLUDED.log_id,
            raw = EXCLUDED.raw,
            updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, rec.Date, rec.Weight, rec.BMI, rec.BodyFat, rec.LogID, nullableJSON(rec.Raw))
	return err
}

// UpsertVO2Max writes the cardio score row for rec.Date.
func (r *Repository) UpsertVO2Max(ctx context.Context, rec domain.VO2MaxRecord) error {
	const stmt = `INSERT INTO vo2max_records (date, score, raw, updated_at)
        VALUES ($1::date,$2,$3,NOW())
        ON CONFLICT (date) DO UPDATE SET score = EXCLUDED.score, raw = EXCLUDED.raw, updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, rec.Date, rec.Score, nullableJSON(rec.Raw))
	return err
}

// UpsertSpO2 writes the SpO2 row for rec.Date.
func (r *Repository) UpsertSpO2(ctx context.Context, rec domain.SpO2Record) error {
	const stmt = `INSERT INTO spo2_records (date, avg, min, max, raw, updated_at)
        VALUES ($1::date,$2,$3,$4,$5,NOW())
        ON CONFLICT (date) DO UPDATE SET avg = EXCLUDED.avg, min = EXCLUDED.min, max = EXCLUDED.max, raw = EXCLUDED.raw, updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, rec.Date, rec.Avg, rec.Min, rec.Max, nullableJSON(rec.Raw))
	return err
}

const (
	activityColumns  = `to_char(date, 'YYYY-MM-DD'), steps, calories, distance, floors, sedentary_minutes, lightly_active_minutes, fairly_active_minutes, very_active_minutes, raw`
	sleepColumns     = `to_char(date, 'YYYY-MM-DD'), start_time, end_time, duration_minutes, minutes_asleep, efficiency, deep_minutes, light_minutes, rem_minutes, wake_minutes, raw`
	heartRateColumns = `to_char(date, 'YYYY-MM-DD'), resting_heart_rate, out_of_range_minutes, fat_burn_minutes, cardio_minutes, peak_minutes, raw`
	weightColumns    = `to_char(date, 'YYYY-MM-DD'), weight, bmi, body_fat, log_id, raw`
	summaryColumns   = `to_char(date, 'YYYY-MM-DD'), steps, calories, distance, active_minutes, resting_heart_rate, sleep_duration_minutes, sleep_efficiency, weight, vo2max, spo2_avg, updated_at`
)

func scanActivity(row pgx.Row) (domain.ActivityRecord, error) {
	var rec domain.ActivityRecord
	var raw []byte
	err := row.Scan(&rec.Date, &rec.Steps, &rec.Calories, &rec.Distance, &rec.Floors, &rec.SedentaryMinutes, &rec.LightlyActiveMinutes, &rec.FairlyActiveMinutes, &rec.VeryActiveMinutes, &raw)
	rec.Raw = raw
	return rec, err
}

func scanSleep(row pgx.Row) (domain.SleepRecord, error) {
	var rec domain.SleepRecord
	var raw []byte
	err := row.Scan(&rec.Date, &rec.StartTime, &rec.EndTime, &rec.DurationMinutes, &rec.MinutesAsleep, &rec.Efficiency, &rec.DeepMinutes, &rec.LightMinutes, &rec.RemMinutes, &rec.WakeMinutes, &raw)
	rec.Raw = raw
	return rec, err
}

func scanHeartRate(row pgx.Row) (domain.HeartRateRecord, error) {
	var rec domain.HeartRateRecord
	var raw []byte
	err := row.Scan(&rec.Date, &rec.RestingHeartRate, &rec.OutOfRangeMinutes, &rec.FatBurnMinutes, &rec.CardioMinutes, &rec.PeakMinutes, &raw)
	rec.Raw = raw
	return rec, err
}

func scanWeight(row pgx.Row) (domain.WeightRecord, error) {
	var rec domain.WeightRecord
	var raw []byte
	err := row.Scan(&rec.Date, &rec.Weight, &rec.BMI, &rec.BodyFat, &rec.LogID, &raw)
	rec.Raw = raw
	return rec, err
}

func scanSummary(row pgx.Row) (domain.DailySummary, error) {
	var s domain.DailySummary
	err := row.Scan(&s.Date, &s.Steps, &s.Calories, &s.Distance, &s.ActiveMinutes, &s.RestingHeartRate, &s.SleepDurationMinutes, &s.SleepEfficiency, &s.Weight, &s.VO2Max, &s.SpO2Avg, &s.UpdatedAt)
	return s, err
}

// getOne runs a single-row query keyed by date and returns nil when the row is absent.
func getOne[T any](ctx context.Context, pool *pgxpool.Pool, query, date string, scan func(pgx.Row) (T, error)) (*T, error) {
	rec, err := scan(pool.QueryRow(ctx, query, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// listRange runs a date-range query, newest first.
func listRange[T any](ctx context.Context, pool *pgxpool.Pool, query string, rng domain.DateRange, scan func(pgx.Row) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, query, rng.From, rng.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]T, 0)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// GetActivity returns the activity row for date, or nil.
func (r *Repository) GetActivity(ctx context.Context, date string) (*domain.ActivityRecord, error) {
	return getOne(ctx, r.pool, `SELECT `+activityColumns+` FROM activity_records WHERE date=$1::date`, date, scanActivity)
}

// GetSleep returns the sleep row for date, or nil.
func (r *Repository) GetSleep(ctx context.Context, date string) (*domain.SleepRecord, error) {
	return getOne(ctx, r.pool, `SELECT `+sleepColumns+` FROM sleep_records WHERE date=$1::date`, date, scanSleep)
}

// GetHeartRate returns the heart rate row for date, or nil.
func (r *Repository) GetHeartRate(ctx context.Context, date string) (*domain.HeartRateRecord, error) {
	return getOne(ctx, r.pool, `SELECT `+heartRateColumns+` FROM heart_rate_records WHERE date=$1::date`, date, scanHeartRate)
}

// GetWeight returns the weight row for date, or nil.
func (r *Repository) GetWeight(ctx context.Context, date string) (*domain.WeightRecord, error) {
	return getOne(ctx, r.pool, `SELECT `+weightColumns+` FROM weight_records WHERE date=$1::date`, date, scanWeight)
}

// GetVO2Max returns the cardio score row for date, or nil.
func (r *Repository) GetVO2Max(ctx context.Context, date string) (*domain.VO2MaxRecord, error) {
	return getOne(ctx, r.pool, `SELECT to_char(date, 'YYYY-MM-DD'), score, raw FROM vo2max_records WHERE date=$1::date`, date,
		func(row pgx.Row) (domain.VO2MaxRecord, error) {
			var rec domain.VO2MaxRecord
			var raw []byte
			err := row.Scan(&rec.Date, &rec.Score, &raw)
			rec.Raw = raw
			return rec, err
		})
}

// GetSpO2 returns the SpO2 row for date, or nil.
func (r *Repository) GetSpO2(ctx context.Context, date string) (*domain.SpO2Record, error) {
	return getOne(ctx, r.pool, `SELECT to_char(date, 'YYYY-MM-DD'), avg, min, max, raw FROM spo2_records WHERE date=$1::date`, date,
		func(row pgx.Row) (domain.SpO2Record, error) {
			var rec domain.SpO2Record
			var raw []byte
			err := row.Scan(&rec.Date, &rec.Avg, &rec.Min, &rec.Max, &raw)
			rec.Raw = raw
			return rec, err
		})
}

// UpsertDailySummary writes the summary row and enqueues a summary event inside a single transaction.
func (r *Repository) UpsertDailySummary(ctx context.Context, summary domain.DailySummary) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO daily_summaries (date, steps, calories, distance, active_minutes, resting_heart_rate, sleep_duration_minutes, sleep_efficiency, weight, vo2max, spo2_avg, updated_at)
        VALUES ($1::date,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (date) DO UPDATE SET
            steps = EXCLUDED.steps,
            calories = EXCLUDED.calories,
            distance = EXCLUDED.distance,
            active_minutes = EXCLUDED.active_minutes,
            resting_heart_rate = EXCLUDED.resting_heart_rate,
            sleep_duration_minutes = EXCLUDED.sleep_duration_minutes,
            sleep_efficiency = EXCLUDED.sleep_efficiency,
            weight = EXCLUDED.weight,
            vo2max = EXCLUDED.vo2max,
            spo2_avg = EXCLUDED.spo2_avg,
            updated_at = EXCLUDED.updated_at`

	_, err = tx.Exec(ctx, stmt,
		summary.Date,
		summary.Steps,
		summary.Calories,
		summary.Distance,
		summary.ActiveMinutes,
		summary.RestingHeartRate,
		summary.SleepDurationMinutes,
		summary.SleepEfficiency,
		summary.Weight,
		summary.VO2Max,
		summary.SpO2Avg,
		summary.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err = r.insertOutbox(ctx, tx, summary); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, summary domain.DailySummary) error {
	body, err := json.Marshal(events.DailySummaryUpdated{
		Date:             summary.Date,
		Steps:            summary.Steps,
		Calories:         summary.Calories,
		ActiveMinutes:    summary.ActiveMinutes,
		RestingHeartRate: summary.RestingHeartRate,
		UpdatedAt:        summary.UpdatedAt,
	})
	if err != nil {
		return err
	}

	dedupeKey := fmt.Sprintf("%s:%s:%d", summary.Date, events.TypeDailySummaryUpdated, summary.UpdatedAt.UnixNano())

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		"daily_summary",
		summary.Date,
		events.TypeDailySummaryUpdated,
		r.summaryTopic,
		r.summaryTopic+"-value",
		summary.Date,
		body,
		dedupeKey,
	)
	return err
}

// GetDailySummary returns the summary for date, or nil.
func (r *Repository) GetDailySummary(ctx context.Context, date string) (*domain.DailySummary, error) {
	return getOne(ctx, r.pool, `SELECT `+summaryColumns+` FROM daily_summaries WHERE date=$1::date`, date, scanSummary)
}

// GetLastReportDate returns the last reported date, or "" when nothing was posted yet.
func (r *Repository) GetLastReportDate(ctx context.Context) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM report_state WHERE key=$1`, lastReportDateKey).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetLastReportDate records date as the last reported date.
func (r *Repository) SetLastReportDate(ctx context.Context, date string) error {
	const stmt = `INSERT INTO report_state (key, value, updated_at) VALUES ($1,$2,NOW())
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, stmt, lastReportDateKey, date)
	return err
}

// ClaimReport takes the posting lease for date. It fails when another caller holds an unexpired
// lease on the same date.
func (r *Repository) ClaimReport(ctx context.Context, date string, lease time.Duration) (bool, error) {
	const stmt = `INSERT INTO report_state (key, value, updated_at) VALUES ($1, $2, NOW())
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
        WHERE report_state.value <> EXCLUDED.value OR report_state.updated_at < NOW() - $3::interval
        RETURNING value`
	var claimed string
	err := r.pool.QueryRow(ctx, stmt, reportClaimKey, date, lease).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ReleaseReport drops the posting lease for date, if it is still held.
func (r *Repository) ReleaseReport(ctx context.Context, date string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM report_state WHERE key = $1 AND value = $2`, reportClaimKey, date)
	return err
}

// ListDailySummaries returns summaries within rng, newest first.
func (r *Repository) ListDailySummaries(ctx context.Context, rng domain.DateRange) ([]domain.DailySummary, error) {
	return listRange(ctx, r.pool, `SELECT `+summaryColumns+` FROM daily_summaries WHERE date BETWEEN $1::date AND $2::date ORDER BY date DESC`, rng, scanSummary)
}

// ListActivity returns activity rows within rng, newest first.
func (r *Repository) ListActivity(ctx context.Context, rng domain.DateRange) ([]domain.ActivityRecord, error) {
	return listRange(ctx, r.pool, `SELECT `+activityColumns+` FROM activity_records WHERE date BETWEEN $1::date AND $2::date ORDER BY date DESC`, rng, scanActivity)
}

// ListSleep returns sleep rows within rng, newest first.
func (r *Repository) ListSleep(ctx context.Context, rng domain.DateRange) ([]domain.SleepRecord, error) {
	return listRange(ctx, r.pool, `SELECT `+sleepColumns+` FROM sleep_records WHERE date BETWEEN $1::date AND $2::date ORDER BY date DESC`, rng, scanSleep)
}

// ListHeartRate returns heart rate rows within rng, newest first.
func (r *Repository) ListHeartRate(ctx context.Context, rng domain.DateRange) ([]domain.HeartRateRecord, error) {
	return listRange(ctx, r.pool, `SELECT `+heartRateColumns+` FROM heart_rate_records WHERE date BETWEEN $1::date AND $2::date ORDER BY date DESC`, rng, scanHeartRate)
}

// ListWeight returns weight rows within rng, newest first.
func (r *Repository) ListWeight(ctx context.Context, rng domain.DateRange) ([]domain.WeightRecord, error) {
	return listRange(ctx, r.pool, `SELECT `+weightColumns+` FROM weight_records WHERE date BETWEEN $1::date AND $2::date ORDER BY date DESC`, rng, scanWeight)
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
