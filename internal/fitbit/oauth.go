package fitbit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultScopes are requested when the user connects their account.
var DefaultScopes = []string{
	"activity",
	"heartrate",
	"sleep",
	"weight",
	"cardio_fitness",
	"oxygen_saturation",
	"profile",
}

// Token is the result of an authorization-code exchange or a refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// OAuthConfig describes the registered Fitbit application.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// OAuth performs the authorization-code and refresh-token grants against the Fitbit token endpoint.
// Client credentials are sent with HTTP Basic authentication.
type OAuth struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

// NewOAuth constructs an OAuth helper. A nil httpClient falls back to a 10s-timeout client.
func NewOAuth(cfg OAuthConfig, httpClient *http.Client) *OAuth {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &OAuth{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token pair.
func (o *OAuth) Exchange(ctx context.Context, code string) (Token, error) {
	if code == "" {
		return Token{}, errors.New("missing authorization code")
	}
	tok, err := o.conf.Exchange(o.withClient(ctx), code)
	if err != nil {
		return Token{}, fmt.Errorf("authorization code exchange: %w", err)
	}
	return fromOAuth2(tok), nil
}

// Refresh redeems refreshToken for a new token pair. Fitbit rotates the refresh token on every call.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return Token{}, errors.New("missing refresh token")
	}
	src := o.conf.TokenSource(o.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return Token{}, fmt.Errorf("refresh rejected with status %d: %w", retrieveErr.Response.StatusCode, err)
		}
		return Token{}, fmt.Errorf("refresh request failed: %w", err)
	}
	out := fromOAuth2(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func (o *OAuth) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func fromOAuth2(tok *oauth2.Token) Token {
	scope, _ := tok.Extra("scope").(string)
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        scope,
	}
}
