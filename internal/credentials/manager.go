// Package credentials hands out usable Fitbit access tokens, refreshing the stored grant when it expires.
package credentials

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/fitbit"
	"example.com/healthdash/internal/observability"
)

// defaultTokenLifetime applies when the token endpoint omits expires_in.
const defaultTokenLifetime = 8 * time.Hour

// Refresher redeems a refresh token at the upstream token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (fitbit.Token, error)
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the credential row. Apart from the OAuth callback save, it is the only writer.
type Manager struct {
	store     domain.CredentialStore
	refresher Refresher
	logger    *log.Logger
	now       func() time.Time
	mu        sync.Mutex
}

// NewManager constructs a Manager.
func NewManager(store domain.CredentialStore, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		logger:    log.New(log.Writer(), "[credentials] ", log.LstdFlags|log.Lshortfile),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidAccessToken returns an access token usable right now, refreshing the stored grant first
// when it has expired. It fails with domain.ErrNotAuthenticated when nothing is stored and with
// domain.ErrRefreshFailed when the refresh is rejected.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil || cred.AccessToken == "" {
		return "", domain.ErrNotAuthenticated
	}

	if !cred.Expired(m.now()) {
		return cred.AccessToken, nil
	}

	m.logger.Printf("access token for %s expired at %s, refreshing", userID, cred.ExpiresAt.Format(time.RFC3339))
	tok, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	observability.RecordTokenRefresh(err == nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRefreshFailed, err)
	}
	exchangedAt := m.now()

	refreshed := m.credentialFrom(userID, tok, exchangedAt)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if refreshed.Scope == "" {
		refreshed.Scope = cred.Scope
	}
	if err := m.store.SaveCredential(ctx, refreshed); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}
	return refreshed.AccessToken, nil
}

// SaveFromExchange stores the grant obtained from the OAuth authorization-code callback.
func (m *Manager) SaveFromExchange(ctx context.Context, userID string, tok fitbit.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.store.SaveCredential(ctx, m.credentialFrom(userID, tok, m.now()))
}

// credentialFrom builds the row to persist. A token without expiry gets the default lifetime
// measured from the exchange time.
func (m *Manager) credentialFrom(userID string, tok fitbit.Token, exchangedAt time.Time) domain.Credential {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = exchangedAt.Add(defaultTokenLifetime)
	}
	return domain.Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt.UTC(),
		Scope:        tok.Scope,
		UpdatedAt:    exchangedAt.UTC(),
	}
}
