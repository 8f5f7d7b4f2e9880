// Package schedule drives the periodic sync and daily report triggers.
package schedule

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/healthsync"
	"example.com/healthdash/internal/report"
)

// SyncRunner re-syncs the most recent days.
type SyncRunner interface {
	SyncRecent(ctx context.Context, days int) ([]healthsync.Result, error)
}

// ReportRunner posts the daily report when it is due.
type ReportRunner interface {
	MaybePostDailyReport(ctx context.Context, date string) report.Outcome
}

// Config controls the trigger cadence.
type Config struct {
	SyncInterval        time.Duration
	SyncDays            int
	ReportEnabled       bool
	ReportHour          int
	ReportCheckInterval time.Duration
	Location            *time.Location
}

// Scheduler runs the sync loop and, when enabled, the report loop until its context ends.
type Scheduler struct {
	syncer   SyncRunner
	reporter ReportRunner
	cfg      Config
	now      func() time.Time
	logger   *log.Logger

	wg sync.WaitGroup
}

// Option configures optional behaviour for the Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the scheduler logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New constructs a Scheduler. reporter may be nil when reporting is disabled.
func New(syncer SyncRunner, reporter ReportRunner, cfg Config, opts ...Option) *Scheduler {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Hour
	}
	if cfg.SyncDays <= 0 {
		cfg.SyncDays = 2
	}
	if cfg.ReportCheckInterval <= 0 {
		cfg.ReportCheckInterval = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Scheduler{
		syncer:   syncer,
		reporter: reporter,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.New(log.Writer(), "[schedule] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the loops in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, s.cfg.SyncInterval, s.runSync)
	}()

	if s.cfg.ReportEnabled && s.reporter != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, s.cfg.ReportCheckInterval, s.runReport)
		}()
	}
}

// Wait blocks until every loop has stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	results, err := s.syncer.SyncRecent(ctx, s.cfg.SyncDays)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if domain.NeedsReconnect(err) {
			s.logger.Printf("scheduled sync skipped: %v", err)
			return
		}
		s.logger.Printf("scheduled sync: %v", err)
		return
	}
	for _, res := range results {
		s.logger.Printf("scheduled sync %s: %s", res.Date, res.State)
	}
}

func (s *Scheduler) runReport(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.now().In(s.cfg.Location)
	if now.Hour() < s.cfg.ReportHour {
		return
	}
	yesterday := now.AddDate(0, 0, -1).Format(domain.DateLayout)
	s.reporter.MaybePostDailyReport(ctx, yesterday)
}
