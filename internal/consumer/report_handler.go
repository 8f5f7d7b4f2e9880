package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/events"
	"example.com/healthdash/internal/report"
)

// ReportTrigger is the reporter surface the handler drives.
type ReportTrigger interface {
	MaybePostDailyReport(ctx context.Context, date string) report.Outcome
}

// ReportWindow is the same switch and local hour the scheduler's report loop honours.
type ReportWindow struct {
	Enabled  bool
	Hour     int
	Location *time.Location
}

// ReportHandler posts yesterday's report once its summary has been recomputed, but only when
// reports are enabled and the local report hour has been reached.
type ReportHandler struct {
	reporter ReportTrigger
	window   ReportWindow
	now      func() time.Time
	logger   *log.Logger
}

// ReportHandlerOption configures the ReportHandler.
type ReportHandlerOption func(*ReportHandler)

// WithReportLogger overrides the handler logger.
func WithReportLogger(logger *log.Logger) ReportHandlerOption {
	return func(h *ReportHandler) {
		h.logger = logger
	}
}

// WithReportClock overrides the time source used to decide what "yesterday" is.
func WithReportClock(now func() time.Time) ReportHandlerOption {
	return func(h *ReportHandler) {
		h.now = now
	}
}

// NewReportHandler constructs a ReportHandler. A nil window location means UTC.
func NewReportHandler(reporter ReportTrigger, window ReportWindow, opts ...ReportHandlerOption) *ReportHandler {
	if window.Location == nil {
		window.Location = time.UTC
	}
	h := &ReportHandler{
		reporter: reporter,
		window:   window,
		now:      time.Now,
		logger:   log.New(log.Writer(), "[report-consumer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements Handler. Events for other types or dates are acknowledged and ignored.
func (h *ReportHandler) Handle(ctx context.Context, msg Message) error {
	if !h.window.Enabled || msg.EventType != events.TypeDailySummaryUpdated {
		return nil
	}

	var evt events.DailySummaryUpdated
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		// Malformed payloads cannot succeed on redelivery.
		h.logger.Printf("decode %s payload at offset %d: %v", msg.EventType, msg.Offset, err)
		return nil
	}
	if _, err := time.Parse(domain.DateLayout, evt.Date); err != nil {
		h.logger.Printf("ignore event with invalid date %q", evt.Date)
		return nil
	}

	now := h.now().In(h.window.Location)
	if now.Hour() < h.window.Hour {
		// The scheduler's report loop picks the day up once the hour is reached.
		return nil
	}
	yesterday := now.AddDate(0, 0, -1).Format(domain.DateLayout)
	if evt.Date != yesterday {
		return nil
	}

	outcome := h.reporter.MaybePostDailyReport(ctx, evt.Date)
	if outcome == report.OutcomeStateError {
		return fmt.Errorf("report state for %s unavailable", evt.Date)
	}
	return nil
}
