package credentials

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/fitbit"
	"example.com/healthdash/internal/persistence/memory"
)

var fixedNow = time.Date(2024, time.January, 15, 7, 0, 0, 0, time.UTC)

type stubRefresher struct {
	calls int
	last  string
	token fitbit.Token
	err   error
}

func (s *stubRefresher) Refresh(_ context.Context, refreshToken string) (fitbit.Token, error) {
	s.calls++
	s.last = refreshToken
	return s.token, s.err
}

func newManager(store domain.CredentialStore, refresher Refresher) *Manager {
	return NewManager(store, refresher,
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(log.New(io.Discard, "", 0)),
	)
}

func TestGetValidAccessTokenWithoutCredential(t *testing.T) {
	refresher := &stubRefresher{}
	m := newManager(memory.NewRepository(), refresher)

	_, err := m.GetValidAccessToken(context.Background(), "user-1")
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
	require.Equal(t, 0, refresher.calls)
}

func TestGetValidAccessTokenReturnsUnexpiredToken(t *testing.T) {
	store := memory.NewRepository()
	require.NoError(t, store.SaveCredential(context.Background(), domain.Credential{
		UserID:       "user-1",
		AccessToken:  "still-good",
		RefreshToken: "r1",
		ExpiresAt:    fixedNow.Add(time.Minute),
	}))
	refresher := &stubRefresher{}
	m := newManager(store, refresher)

	token, err := m.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "still-good", token)
	require.Equal(t, 0, refresher.calls)
}

func TestGetValidAccessTokenRefreshesExpiredOnce(t *testing.T) {
	store := memory.NewRepository()
	oldExpiry := fixedNow.Add(-time.Minute)
	require.NoError(t, store.SaveCredential(context.Background(), domain.Credential{
		UserID:       "user-1",
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    oldExpiry,
		Scope:        "activity sleep",
	}))
	refresher := &stubRefresher{token: fitbit.Token{
		AccessToken:  "fresh",
		RefreshToken: "r2",
		Expiry:       fixedNow.Add(8 * time.Hour),
	}}
	m := newManager(store, refresher)

	token, err := m.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "fresh", token)
	require.Equal(t, 1, refresher.calls)
	require.Equal(t, "r1", refresher.last)

	stored, err := store.GetCredential(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "fresh", stored.AccessToken)
	require.Equal(t, "r2", stored.RefreshToken, "rotated refresh token replaces the old one")
	require.True(t, stored.ExpiresAt.After(oldExpiry))
	require.Equal(t, "activity sleep", stored.Scope)

	// A second call uses the refreshed row without another refresh.
	_, err = m.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, refresher.calls)
}

func TestExpiryAtExactBoundaryTriggersRefresh(t *testing.T) {
	store := memory.NewRepository()
	require.NoError(t, store.SaveCredential(context.Background(), domain.Credential{
		UserID: "user-1", AccessToken: "edge", RefreshToken: "r1", ExpiresAt: fixedNow,
	}))
	refresher := &stubRefresher{token: fitbit.Token{AccessToken: "fresh", RefreshToken: "r2"}}
	m := newManager(store, refresher)

	_, err := m.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, refresher.calls)

	stored, _ := store.GetCredential(context.Background(), "user-1")
	require.Equal(t, fixedNow.Add(defaultTokenLifetime), stored.ExpiresAt)
}

func TestGetValidAccessTokenRefreshRejected(t *testing.T) {
	store := memory.NewRepository()
	require.NoError(t, store.SaveCredential(context.Background(), domain.Credential{
		UserID: "user-1", AccessToken: "stale", RefreshToken: "revoked", ExpiresAt: fixedNow.Add(-time.Hour),
	}))
	refresher := &stubRefresher{err: errors.New("invalid_grant")}
	m := newManager(store, refresher)

	_, err := m.GetValidAccessToken(context.Background(), "user-1")
	require.ErrorIs(t, err, domain.ErrRefreshFailed)
	require.True(t, domain.NeedsReconnect(err))

	stored, _ := store.GetCredential(context.Background(), "user-1")
	require.Equal(t, "stale", stored.AccessToken, "failed refresh leaves the row untouched")
}

func TestSaveFromExchange(t *testing.T) {
	store := memory.NewRepository()
	m := newManager(store, &stubRefresher{})

	require.NoError(t, m.SaveFromExchange(context.Background(), "user-1", fitbit.Token{
		AccessToken: "a", RefreshToken: "r", Expiry: fixedNow.Add(time.Hour), Scope: "activity",
	}))

	stored, err := store.GetCredential(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "a", stored.AccessToken)
	require.Equal(t, fixedNow.Add(time.Hour), stored.ExpiresAt)
}
