package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthdash/internal/chat"
	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/insights"
	"example.com/healthdash/internal/persistence/memory"
)

type stubInsights struct {
	calls int
	out   insights.Insights
	err   error
}

func (s *stubInsights) Generate(_ context.Context, _ domain.DailySummary) (insights.Insights, error) {
	s.calls++
	return s.out, s.err
}

type stubPoster struct {
	ok       bool
	messages []string
	during   func()
}

func (s *stubPoster) Post(_ context.Context, text string) bool {
	s.messages = append(s.messages, text)
	if s.during != nil {
		s.during()
	}
	return s.ok
}

type failingState struct {
	*memory.Repository
}

func (failingState) SetLastReportDate(context.Context, string) error {
	return errors.New("disk full")
}

func newTestReporter(t *testing.T, repo *memory.Repository, gen *stubInsights, poster *stubPoster) *Reporter {
	t.Helper()
	return NewReporter(repo, repo, gen, poster, WithLogger(log.New(io.Discard, "", 0)))
}

func seedSummary(t *testing.T, repo *memory.Repository, date string) {
	t.Helper()
	rhr := 58
	require.NoError(t, repo.UpsertDailySummary(context.Background(), domain.DailySummary{
		Date:             date,
		Steps:            8000,
		Calories:         2200,
		ActiveMinutes:    35,
		RestingHeartRate: &rhr,
	}))
}

func goodInsights() insights.Insights {
	return insights.Insights{
		Summary:        "A balanced day.",
		Highlights:     []string{"Hit 8,000 steps"},
		Improvements:   []string{"More sleep"},
		ActionableTips: []string{"Lights out by 22:30"},
	}
}

func TestReportPostsOnceForADate(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	seedSummary(t, repo, "2024-01-14")
	gen := &stubInsights{out: goodInsights()}
	poster := &stubPoster{ok: true}
	r := newTestReporter(t, repo, gen, poster)

	require.Equal(t, OutcomePosted, r.MaybePostDailyReport(ctx, "2024-01-14"))
	require.Equal(t, OutcomeAlreadyReported, r.MaybePostDailyReport(ctx, "2024-01-14"))

	require.Len(t, poster.messages, 1)
	require.Equal(t, 1, gen.calls)
	require.Contains(t, poster.messages[0], "2024-01-14")

	last, err := repo.GetLastReportDate(ctx)
	require.NoError(t, err)
	require.Equal(t, "2024-01-14", last)
}

func TestReportSkipsWithoutSummary(t *testing.T) {
	repo := memory.NewRepository()
	gen := &stubInsights{out: goodInsights()}
	poster := &stubPoster{ok: true}
	r := newTestReporter(t, repo, gen, poster)

	require.Equal(t, OutcomeNoSummary, r.MaybePostDailyReport(context.Background(), "2024-01-14"))
	require.Zero(t, gen.calls)
	require.Empty(t, poster.messages)
}

func TestReportSkipsWhenInsightsUnavailable(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	seedSummary(t, repo, "2024-01-14")
	gen := &stubInsights{err: fmt.Errorf("%w: quota exceeded", insights.ErrUnavailable)}
	poster := &stubPoster{ok: true}
	r := newTestReporter(t, repo, gen, poster)

	require.Equal(t, OutcomeInsightsUnavailable, r.MaybePostDailyReport(ctx, "2024-01-14"))
	require.Empty(t, poster.messages)

	last, err := repo.GetLastReportDate(ctx)
	require.NoError(t, err)
	require.Empty(t, last)
}

func TestReportPostFailureLeavesStateForRetry(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	seedSummary(t, repo, "2024-01-14")
	gen := &stubInsights{out: goodInsights()}
	poster := &stubPoster{ok: false}
	r := newTestReporter(t, repo, gen, poster)

	require.Equal(t, OutcomePostFailed, r.MaybePostDailyReport(ctx, "2024-01-14"))
	last, err := repo.GetLastReportDate(ctx)
	require.NoError(t, err)
	require.Empty(t, last)

	poster.ok = true
	require.Equal(t, OutcomePosted, r.MaybePostDailyReport(ctx, "2024-01-14"))
	require.Len(t, poster.messages, 2)
}

func TestReportStateWriteFailure(t *testing.T) {
	repo := memory.NewRepository()
	seedSummary(t, repo, "2024-01-14")
	state := failingState{Repository: repo}
	poster := &stubPoster{ok: true}
	r := NewReporter(state, repo, &stubInsights{out: goodInsights()}, poster, WithLogger(log.New(io.Discard, "", 0)))

	require.Equal(t, OutcomeStateError, r.MaybePostDailyReport(context.Background(), "2024-01-14"))
	require.Len(t, poster.messages, 1)
}

func TestReportWithoutChannelSkipsInsights(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	seedSummary(t, repo, "2024-01-14")
	gen := &stubInsights{out: goodInsights()}
	r := NewReporter(repo, repo, gen, chat.New(""), WithLogger(log.New(io.Discard, "", 0)))

	for i := 0; i < 4; i++ {
		require.Equal(t, OutcomeNoChannel, r.MaybePostDailyReport(ctx, "2024-01-14"))
	}
	require.Zero(t, gen.calls)

	claimed, err := repo.ClaimReport(ctx, "2024-01-14", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed, "no claim is taken without a channel")
}

func TestReportSkipsDateClaimedByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	seedSummary(t, repo, "2024-01-14")
	gen := &stubInsights{out: goodInsights()}
	poster := &stubPoster{ok: true}
	r := newTestReporter(t, repo, gen, poster)

	claimed, err := repo.ClaimReport(ctx, "2024-01-14", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.Equal(t, OutcomeClaimedElsewhere, r.MaybePostDailyReport(ctx, "2024-01-14"))
	require.Zero(t, gen.calls)
	require.Empty(t, poster.messages)
}

func TestConcurrentReportersPostOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	seedSummary(t, repo, "2024-01-14")

	apiPoster := &stubPoster{ok: true}
	consumerPoster := &stubPoster{ok: true}
	api := newTestReporter(t, repo, &stubInsights{out: goodInsights()}, apiPoster)
	consumer := newTestReporter(t, repo, &stubInsights{out: goodInsights()}, consumerPoster)

	// The second reporter fires while the first is mid-post, after both saw no report yet.
	var second Outcome
	apiPoster.during = func() { second = consumer.MaybePostDailyReport(ctx, "2024-01-14") }

	require.Equal(t, OutcomePosted, api.MaybePostDailyReport(ctx, "2024-01-14"))
	require.Equal(t, OutcomeClaimedElsewhere, second)
	require.Len(t, apiPoster.messages, 1)
	require.Empty(t, consumerPoster.messages)

	require.Equal(t, OutcomeAlreadyReported, consumer.MaybePostDailyReport(ctx, "2024-01-14"))
}

func TestReportReleasesClaimWhenInsightsFail(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	seedSummary(t, repo, "2024-01-14")
	gen := &stubInsights{err: insights.ErrUnavailable}
	poster := &stubPoster{ok: true}
	r := newTestReporter(t, repo, gen, poster)

	require.Equal(t, OutcomeInsightsUnavailable, r.MaybePostDailyReport(ctx, "2024-01-14"))

	gen.err = nil
	gen.out = goodInsights()
	require.Equal(t, OutcomePosted, r.MaybePostDailyReport(ctx, "2024-01-14"))
	require.Len(t, poster.messages, 1)
}

func TestFormatMessageSections(t *testing.T) {
	rhr := 58
	weight := 80.4
	vo2 := "44-48"
	msg := FormatMessage(domain.DailySummary{
		Date:                 "2024-01-14",
		Steps:                12345,
		Calories:             2200,
		ActiveMinutes:        35,
		RestingHeartRate:     &rhr,
		SleepDurationMinutes: 450,
		Weight:               &weight,
		VO2Max:               &vo2,
	}, insights.Insights{
		Summary:      "A balanced day.",
		Highlights:   []string{"Hit 12k steps", "  "},
		Improvements: nil,
	})

	require.True(t, strings.HasPrefix(msg, "*Daily health report for 2024-01-14*"))
	require.Contains(t, msg, "Steps: 12,345")
	require.Contains(t, msg, "Sleep: 7h 30m")
	require.Contains(t, msg, "Resting HR: 58 bpm")
	require.Contains(t, msg, "Weight: 80.4 kg")
	require.Contains(t, msg, "VO2 max: 44-48")
	require.NotContains(t, msg, "SpO2")
	require.Contains(t, msg, "*Highlights*\n• Hit 12k steps")
	require.NotContains(t, msg, "*To improve*")
	require.NotContains(t, msg, "*Tips for today*")
}

func TestGroupThousands(t *testing.T) {
	require.Equal(t, "0", groupThousands(0))
	require.Equal(t, "999", groupThousands(999))
	require.Equal(t, "1,000", groupThousands(1000))
	require.Equal(t, "1,234,567", groupThousands(1234567))
	require.Equal(t, "-1,000", groupThousands(-1000))
}
