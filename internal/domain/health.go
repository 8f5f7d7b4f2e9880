package domain

import (
	"encoding/json"
	"time"
)

// DateLayout is the calendar-date format used as the key of every per-date table.
const DateLayout = "2006-01-02"

// HealthDomain names one category of upstream health data.
type HealthDomain string

const (
	DomainActivity  HealthDomain = "activity"
	DomainSleep     HealthDomain = "sleep"
	DomainHeartRate HealthDomain = "heart_rate"
	DomainWeight    HealthDomain = "weight"
	DomainVO2Max    HealthDomain = "vo2max"
	DomainSpO2      HealthDomain = "spo2"
)

// AllDomains lists the domains fetched by a sync cycle, in write order.
var AllDomains = []HealthDomain{
	DomainActivity,
	DomainSleep,
	DomainHeartRate,
	DomainWeight,
	DomainVO2Max,
	DomainSpO2,
}

// Credential is the persisted OAuth grant for the single dashboard user.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	UpdatedAt    time.Time
}

// Expired reports whether the access token can no longer be used at now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ActivityRecord is the daily activity projection.
type ActivityRecord struct {
	Date                 string          `json:"date"`
	Steps                int             `json:"steps"`
	Calories             int             `json:"calories"`
	Distance             float64         `json:"distance"`
	Floors               int             `json:"floors"`
	SedentaryMinutes     int             `json:"sedentary_minutes"`
	LightlyActiveMinutes int             `json:"lightly_active_minutes"`
	FairlyActiveMinutes  int             `json:"fairly_active_minutes"`
	VeryActiveMinutes    int             `json:"very_active_minutes"`
	Raw                  json.RawMessage `json:"-"`
}

// SleepRecord is the main sleep session ending on Date.
type SleepRecord struct {
	Date            string          `json:"date"`
	StartTime       string          `json:"start_time"`
	EndTime         string          `json:"end_time"`
	DurationMinutes int             `json:"duration_minutes"`
	MinutesAsleep   int             `json:"minutes_asleep"`
	Efficiency      int             `json:"efficiency"`
	DeepMinutes     int             `json:"deep_minutes"`
	LightMinutes    int             `json:"light_minutes"`
	RemMinutes      int             `json:"rem_minutes"`
	WakeMinutes     int             `json:"wake_minutes"`
	Raw             json.RawMessage `json:"-"`
}

// HeartRateRecord holds resting heart rate and per-zone minutes.
type HeartRateRecord struct {
	Date              string          `json:"date"`
	RestingHeartRate  *int            `json:"resting_heart_rate"`
	OutOfRangeMinutes int             `json:"out_of_range_minutes"`
	FatBurnMinutes    int             `json:"fat_burn_minutes"`
	CardioMinutes     int             `json:"cardio_minutes"`
	PeakMinutes       int             `json:"peak_minutes"`
	Raw               json.RawMessage `json:"-"`
}

// WeightRecord is the latest body-weight log entry for Date.
type WeightRecord struct {
	Date    string          `json:"date"`
	Weight  float64         `json:"weight"`
	BMI     *float64        `json:"bmi"`
	BodyFat *float64        `json:"body_fat"`
	LogID   int64           `json:"log_id"`
	Raw     json.RawMessage `json:"-"`
}

// VO2MaxRecord keeps the cardio fitness score as reported, either "44-48" or "45".
type VO2MaxRecord struct {
	Date  string          `json:"date"`
	Score string          `json:"score"`
	Raw   json.RawMessage `json:"-"`
}

// SpO2Record holds the sleep-time blood oxygen statistics.
type SpO2Record struct {
	Date string          `json:"date"`
	Avg  float64         `json:"avg"`
	Min  float64         `json:"min"`
	Max  float64         `json:"max"`
	Raw  json.RawMessage `json:"-"`
}

// DailySummary is the denormalised view recomputed after every sync of Date.
type DailySummary struct {
	Date                 string    `json:"date"`
	Steps                int       `json:"steps"`
	Calories             int       `json:"calories"`
	Distance             float64   `json:"distance"`
	ActiveMinutes        int       `json:"active_minutes"`
	RestingHeartRate     *int      `json:"resting_heart_rate"`
	SleepDurationMinutes int       `json:"sleep_duration_minutes"`
	SleepEfficiency      *int      `json:"sleep_efficiency"`
	Weight               *float64  `json:"weight"`
	VO2Max               *string   `json:"vo2max"`
	SpO2Avg              *float64  `json:"spo2_avg"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	From string
	To   string
}

// RangeEnding returns the days-long range whose last day is end.
func RangeEnding(end time.Time, days int) DateRange {
	if days < 1 {
		days = 1
	}
	return DateRange{
		From: end.AddDate(0, 0, -(days - 1)).Format(DateLayout),
		To:   end.Format(DateLayout),
	}
}
