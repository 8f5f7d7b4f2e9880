package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthdash/internal/auth"
	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/fitbit"
	"example.com/healthdash/internal/healthsync"
	"example.com/healthdash/internal/persistence/memory"
)

var authConfig = auth.Config{Secret: "test-secret", Issuer: "healthdash"}

type stubSyncer struct {
	dates []string
	err   error
}

func (s *stubSyncer) Sync(_ context.Context, date string) (healthsync.Result, error) {
	s.dates = append(s.dates, date)
	if s.err != nil {
		return healthsync.Result{Date: date, State: healthsync.StateFailed, Reason: s.err.Error()}, s.err
	}
	return healthsync.Result{Date: date, State: healthsync.StateDone}, nil
}

func (s *stubSyncer) Today() string { return "2024-01-15" }

type stubOAuth struct {
	codes []string
	err   error
}

func (s *stubOAuth) AuthCodeURL(state string) string {
	return "https://www.fitbit.com/oauth2/authorize?state=" + url.QueryEscape(state)
}

func (s *stubOAuth) Exchange(_ context.Context, code string) (fitbit.Token, error) {
	s.codes = append(s.codes, code)
	if s.err != nil {
		return fitbit.Token{}, s.err
	}
	return fitbit.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(8 * time.Hour)}, nil
}

type stubCredentials struct {
	saved []fitbit.Token
}

func (s *stubCredentials) SaveFromExchange(_ context.Context, _ string, tok fitbit.Token) error {
	s.saved = append(s.saved, tok)
	return nil
}

type fixture struct {
	repo    *memory.Repository
	syncer  *stubSyncer
	oauth   *stubOAuth
	creds   *stubCredentials
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memory.NewRepository(),
		syncer: &stubSyncer{},
		oauth:  &stubOAuth{},
		creds:  &stubCredentials{},
	}
	h := NewHandler(Dependencies{
		Service:     domain.NewService(f.repo, f.repo, time.UTC),
		Syncer:      f.syncer,
		OAuth:       f.oauth,
		Credentials: f.creds,
		UserID:      "default",
		Logger:      log.New(io.Discard, "", 0),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	f.handler = auth.NewMiddleware(authConfig).Wrap(mux)
	return f
}

func (f *fixture) do(t *testing.T, method, target string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if scopes != nil {
		token, err := auth.Issue(authConfig, "owner", scopes, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestListSummariesWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, d := range []string{"2024-01-07", "2024-01-08", "2024-01-12", "2024-01-14", "2024-01-15"} {
		require.NoError(t, f.repo.UpsertDailySummary(ctx, domain.DailySummary{Date: d, Steps: 1000}))
	}

	rec := f.do(t, http.MethodGet, "/v1/health/summary?end_date=2024-01-14", auth.ScopeHealthRead)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool                  `json:"success"`
		Data    []domain.DailySummary `json:"data"`
		Period  Period                `json:"period"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, Period{Days: 7, EndDate: "2024-01-14"}, resp.Period)
	require.Len(t, resp.Data, 3)
	require.Equal(t, "2024-01-14", resp.Data[0].Date)
	require.Equal(t, "2024-01-08", resp.Data[2].Date)
}

func TestWeightDefaultsToThirtyDays(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.UpsertWeight(context.Background(), domain.WeightRecord{Date: "2023-12-20", Weight: 81}))

	rec := f.do(t, http.MethodGet, "/v1/health/weight?end_date=2024-01-15", auth.ScopeHealthRead)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data   []domain.WeightRecord `json:"data"`
		Period Period                `json:"period"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 30, resp.Period.Days)
	require.Len(t, resp.Data, 1)
}

func TestEmptyListIsArray(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/health/sleep?days=1&end_date=2024-01-15", auth.ScopeHealthRead)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"data":[],"period":{"days":1,"end_date":"2024-01-15"}}`, rec.Body.String())
}

func TestListValidatesQuery(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/v1/health/activity?days=0",
		"/v1/health/activity?days=366",
		"/v1/health/activity?days=abc",
		"/v1/health/heartrate?end_date=15-01-2024",
	} {
		rec := f.do(t, http.MethodGet, target, auth.ScopeHealthRead)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		require.Contains(t, rec.Body.String(), "validation_failed")
	}
}

func TestReadRequiresScope(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/health/activity")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/health/activity", auth.ScopeHealthSync)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetSummaryByDate(t *testing.T) {
	f := newFixture(t)
	rhr := 58
	require.NoError(t, f.repo.UpsertDailySummary(context.Background(), domain.DailySummary{Date: "2024-01-15", Steps: 8000, ActiveMinutes: 35, RestingHeartRate: &rhr}))

	rec := f.do(t, http.MethodGet, "/v1/health/summary/2024-01-15", auth.ScopeHealthRead)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool                `json:"success"`
		Data    domain.DailySummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 35, resp.Data.ActiveMinutes)
	require.Equal(t, 58, *resp.Data.RestingHeartRate)

	rec = f.do(t, http.MethodGet, "/v1/health/summary/2024-01-16", auth.ScopeHealthRead)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/health/summary/yesterday", auth.ScopeHealthRead)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSync(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/sync", auth.ScopeHealthSync)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/sync?date=2024-01-14", auth.ScopeHealthSync)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"2024-01-15", "2024-01-14"}, f.syncer.dates)

	rec = f.do(t, http.MethodPost, "/v1/sync", auth.ScopeHealthRead)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTriggerSyncNotConnected(t *testing.T) {
	f := newFixture(t)
	f.syncer.err = domain.ErrNotAuthenticated

	rec := f.do(t, http.MethodPost, "/v1/sync", auth.ScopeHealthSync)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not_connected", body["type"])
	require.Contains(t, body["detail"], "please connect")

	f.syncer.err = errors.New("store offline")
	rec = f.do(t, http.MethodPost, "/v1/sync", auth.ScopeHealthSync)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOAuthFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/oauth/authorize")
	require.Equal(t, http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	state := cookies[0].Value
	require.NotEmpty(t, state)
	require.Contains(t, rec.Header().Get("Location"), "state="+state)

	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?code=abc&state="+state, nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, []string{"abc"}, f.oauth.codes)
	require.Len(t, f.creds.saved, 1)
	require.Equal(t, "r1", f.creds.saved[0].RefreshToken)
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "expected"})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_state")
	require.Empty(t, f.oauth.codes)

	rec = f.do(t, http.MethodGet, "/oauth/callback?error=access_denied")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "authorization_denied")
}

func TestOAuthCallbackExchangeFailure(t *testing.T) {
	f := newFixture(t)
	f.oauth.err = errors.New("invalid_grant")

	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?code=abc&state=s1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "s1"})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Empty(t, f.creds.saved)
}

func TestHealthzIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
