package fitbit

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ActivityResponse is the body of the daily activity summary endpoint.
type ActivityResponse struct {
	Summary ActivitySummary `json:"summary"`
}

// ActivitySummary carries the daily totals.
type ActivitySummary struct {
	Steps                int        `json:"steps"`
	CaloriesOut          int        `json:"caloriesOut"`
	Distances            []Distance `json:"distances"`
	Floors               int        `json:"floors"`
	SedentaryMinutes     int        `json:"sedentaryMinutes"`
	LightlyActiveMinutes int        `json:"lightlyActiveMinutes"`
	FairlyActiveMinutes  int        `json:"fairlyActiveMinutes"`
	VeryActiveMinutes    int        `json:"veryActiveMinutes"`
}

// Distance is one entry of the per-activity distance breakdown.
type Distance struct {
	Activity string  `json:"activity"`
	Distance float64 `json:"distance"`
}

// TotalDistance returns the "total" distance entry, or 0 when it is absent.
func (s ActivitySummary) TotalDistance() float64 {
	for _, d := range s.Distances {
		if d.Activity == "total" {
			return d.Distance
		}
	}
	return 0
}

// SleepResponse is the body of the sleep log endpoint.
type SleepResponse struct {
	Sleep []SleepLog `json:"sleep"`
}

// SleepLog is one sleep session.
type SleepLog struct {
	IsMainSleep   bool   `json:"isMainSleep"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	Duration      int64  `json:"duration"` // milliseconds
	Efficiency    int    `json:"efficiency"`
	MinutesAsleep int    `json:"minutesAsleep"`
	Levels        struct {
		Summary map[string]SleepStage `json:"summary"`
	} `json:"levels"`
}

// SleepStage holds the minutes spent in one sleep stage.
type SleepStage struct {
	Minutes int `json:"minutes"`
}

// MainSleep returns the session flagged as main sleep, else the first one, else nil.
func (r SleepResponse) MainSleep() *SleepLog {
	for i := range r.Sleep {
		if r.Sleep[i].IsMainSleep {
			return &r.Sleep[i]
		}
	}
	if len(r.Sleep) > 0 {
		return &r.Sleep[0]
	}
	return nil
}

// StageMinutes returns the minutes for stage, 0 when not reported.
func (l SleepLog) StageMinutes(stage string) int {
	return l.Levels.Summary[stage].Minutes
}

// HeartRateResponse is the body of the one-day heart rate endpoint.
type HeartRateResponse struct {
	ActivitiesHeart []HeartActivity `json:"activities-heart"`
}

// HeartActivity is the daily heart rate entry.
type HeartActivity struct {
	DateTime string `json:"dateTime"`
	Value    struct {
		RestingHeartRate *int            `json:"restingHeartRate"`
		HeartRateZones   []HeartRateZone `json:"heartRateZones"`
	} `json:"value"`
}

// HeartRateZone reports the minutes spent in one zone.
type HeartRateZone struct {
	Name    string `json:"name"`
	Minutes int    `json:"minutes"`
}

// ZoneMinutes returns the minutes for the named zone, 0 when absent.
func (a HeartActivity) ZoneMinutes(name string) int {
	for _, z := range a.Value.HeartRateZones {
		if strings.EqualFold(z.Name, name) {
			return z.Minutes
		}
	}
	return 0
}

// WeightResponse is the body of the weight log endpoint.
type WeightResponse struct {
	Weight []WeightLog `json:"weight"`
}

// WeightLog is one body weight entry. Raw holds the entry exactly as received.
type WeightLog struct {
	Date   string          `json:"date"`
	Time   string          `json:"time"`
	Weight float64         `json:"weight"`
	BMI    *float64        `json:"bmi"`
	Fat    *float64        `json:"fat"`
	LogID  int64           `json:"logId"`
	Raw    json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps a verbatim copy of the entry alongside the decoded fields.
func (w *WeightLog) UnmarshalJSON(data []byte) error {
	type alias WeightLog
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*w = WeightLog(a)
	w.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// CardioScoreResponse is the body of the VO2max endpoint.
type CardioScoreResponse struct {
	CardioScore []CardioScore `json:"cardioScore"`
}

// CardioScore is a daily VO2max estimate.
type CardioScore struct {
	DateTime string `json:"dateTime"`
	Value    struct {
		VO2Max json.RawMessage `json:"vo2Max"`
	} `json:"value"`
}

// Score renders the VO2max value as a string: ranges pass through, numbers are formatted.
func (c CardioScore) Score() string {
	raw := bytes.TrimSpace(c.Value.VO2Max)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// SpO2Response is the body of the SpO2 summary endpoint.
// The endpoint answers {} or [] when there was no sleep-time sample.
type SpO2Response struct {
	DateTime string     `json:"dateTime"`
	Value    *SpO2Value `json:"value"`
}

// SpO2Value holds the summary statistics.
type SpO2Value struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// UnmarshalJSON accepts both the object form and the array form (first element wins).
func (r *SpO2Response) UnmarshalJSON(data []byte) error {
	type alias SpO2Response
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []alias
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		if len(list) > 0 {
			*r = SpO2Response(list[0])
		}
		return nil
	}
	var a alias
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return err
	}
	*r = SpO2Response(a)
	return nil
}
