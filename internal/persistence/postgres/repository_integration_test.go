//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/events"
)

func setupRepository(t *testing.T, ctx context.Context) (*Repository, *pgxpool.Pool) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("healthdash"),
		postgrescontainer.WithUsername("healthdash"),
		postgrescontainer.WithPassword("healthdash"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool), pool
}

func TestUpsertOverwritesRowForDate(t *testing.T) {
	ctx := context.Background()
	repo, pool := setupRepository(t, ctx)

	rec := domain.ActivityRecord{
		Date:                "2024-01-15",
		Steps:               8000,
		Calories:            2200,
		Distance:            5.2,
		FairlyActiveMinutes: 15,
		VeryActiveMinutes:   20,
		Raw:                 json.RawMessage(`{"summary":{"steps":8000}}`),
	}
	require.NoError(t, repo.UpsertActivity(ctx, rec))
	require.NoError(t, repo.UpsertActivity(ctx, rec))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM activity_records`).Scan(&count))
	require.Equal(t, 1, count)

	rec.Steps = 9100
	require.NoError(t, repo.UpsertActivity(ctx, rec))

	stored, err := repo.GetActivity(ctx, "2024-01-15")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 9100, stored.Steps)
	require.InDelta(t, 5.2, stored.Distance, 1e-9)
	require.JSONEq(t, `{"summary":{"steps":8000}}`, string(stored.Raw))

	missing, err := repo.GetActivity(ctx, "2024-01-16")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestNullableColumnsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	require.NoError(t, repo.UpsertHeartRate(ctx, domain.HeartRateRecord{Date: "2024-01-15", FatBurnMinutes: 12}))
	hr, err := repo.GetHeartRate(ctx, "2024-01-15")
	require.NoError(t, err)
	require.Nil(t, hr.RestingHeartRate)
	require.Nil(t, hr.Raw)

	bmi := 24.1
	require.NoError(t, repo.UpsertWeight(ctx, domain.WeightRecord{Date: "2024-01-15", Weight: 80.2, BMI: &bmi, LogID: 3}))
	wt, err := repo.GetWeight(ctx, "2024-01-15")
	require.NoError(t, err)
	require.NotNil(t, wt.BMI)
	require.Nil(t, wt.BodyFat)
	require.Equal(t, int64(3), wt.LogID)
}

func TestSummaryUpsertEnqueuesOutboxEvent(t *testing.T) {
	ctx := context.Background()
	repo, pool := setupRepository(t, ctx)

	rhr := 58
	summary := domain.DailySummary{
		Date:             "2024-01-15",
		Steps:            8000,
		Calories:         2200,
		ActiveMinutes:    35,
		RestingHeartRate: &rhr,
		UpdatedAt:        time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.UpsertDailySummary(ctx, summary))

	stored, err := repo.GetDailySummary(ctx, "2024-01-15")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 35, stored.ActiveMinutes)
	require.Nil(t, stored.Weight)
	require.Nil(t, stored.VO2Max)

	var (
		eventType, topic string
		payload          []byte
	)
	require.NoError(t, pool.QueryRow(ctx, `SELECT event_type, topic, payload FROM outbox WHERE aggregate_id=$1`, "2024-01-15").Scan(&eventType, &topic, &payload))
	require.Equal(t, events.TypeDailySummaryUpdated, eventType)
	require.Equal(t, events.TopicSummaryEvents, topic)

	var evt events.DailySummaryUpdated
	require.NoError(t, json.Unmarshal(payload, &evt))
	require.Equal(t, 35, evt.ActiveMinutes)
	require.Equal(t, 58, *evt.RestingHeartRate)
}

func TestCredentialAndReportState(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	cred, err := repo.GetCredential(ctx, "default")
	require.NoError(t, err)
	require.Nil(t, cred)

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, repo.SaveCredential(ctx, domain.Credential{UserID: "default", AccessToken: "a1", RefreshToken: "r1", ExpiresAt: expires}))
	require.NoError(t, repo.SaveCredential(ctx, domain.Credential{UserID: "default", AccessToken: "a2", RefreshToken: "r2", ExpiresAt: expires.Add(time.Hour)}))

	cred, err = repo.GetCredential(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, "a2", cred.AccessToken)
	require.Equal(t, "r2", cred.RefreshToken)
	require.True(t, cred.ExpiresAt.Equal(expires.Add(time.Hour)))

	last, err := repo.GetLastReportDate(ctx)
	require.NoError(t, err)
	require.Empty(t, last)
	require.NoError(t, repo.SetLastReportDate(ctx, "2024-01-14"))
	require.NoError(t, repo.SetLastReportDate(ctx, "2024-01-15"))
	last, err = repo.GetLastReportDate(ctx)
	require.NoError(t, err)
	require.Equal(t, "2024-01-15", last)
}

func TestReportClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	first, err := repo.ClaimReport(ctx, "2024-01-14", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	second, err := repo.ClaimReport(ctx, "2024-01-14", time.Minute)
	require.NoError(t, err)
	require.False(t, second)

	next, err := repo.ClaimReport(ctx, "2024-01-15", time.Minute)
	require.NoError(t, err)
	require.True(t, next, "a new date replaces the claim")

	require.NoError(t, repo.ReleaseReport(ctx, "2024-01-15"))
	again, err := repo.ClaimReport(ctx, "2024-01-15", time.Minute)
	require.NoError(t, err)
	require.True(t, again)

	expired, err := repo.ClaimReport(ctx, "2024-01-15", -time.Second)
	require.NoError(t, err)
	require.True(t, expired, "a lapsed lease can be taken over")

	last, err := repo.GetLastReportDate(ctx)
	require.NoError(t, err)
	require.Empty(t, last, "claims never move the last report date")
}

func TestListReturnsNewestFirstWithinRange(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	for _, d := range []string{"2024-01-10", "2024-01-12", "2024-01-14", "2024-01-16"} {
		require.NoError(t, repo.UpsertWeight(ctx, domain.WeightRecord{Date: d, Weight: 80}))
	}

	rows, err := repo.ListWeight(ctx, domain.DateRange{From: "2024-01-11", To: "2024-01-15"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "2024-01-14", rows[0].Date)
	require.Equal(t, "2024-01-12", rows[1].Date)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(resolvePath(t, "../../../db/postgres/migrations"), "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	for _, path := range files {
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
