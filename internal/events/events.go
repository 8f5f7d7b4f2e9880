// Package events defines the event payloads published through the outbox and read by the consumer.
package events

import "time"

const (
	// TypeDailySummaryUpdated is emitted whenever a daily summary row is recomputed.
	TypeDailySummaryUpdated = "health.daily_summary.updated"
	// TopicSummaryEvents carries summary events.
	TopicSummaryEvents = "health_summary_events"
)

// DailySummaryUpdated is the payload of TypeDailySummaryUpdated.
type DailySummaryUpdated struct {
	Date             string    `json:"date"`
	Steps            int       `json:"steps"`
	Calories         int       `json:"calories"`
	ActiveMinutes    int       `json:"active_minutes"`
	RestingHeartRate *int      `json:"resting_heart_rate"`
	UpdatedAt        time.Time `json:"updated_at"`
}
