// Package auth validates the HS256 bearer tokens guarding the health API.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the shared HMAC secret and the expected issuer.
type Config struct {
	Secret string
	Issuer string
}

// Claims is the verified identity attached to a request.
type Claims struct {
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
}

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for tokens that fail signature, issuer or expiry checks.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// tokenClaims is the wire shape. Scopes travel as an OAuth-style space separated "scope"
// string; a "scopes" array is accepted as well.
type tokenClaims struct {
	Scope     string   `json:"scope,omitempty"`
	ScopeList []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func (c tokenClaims) scopes() []string {
	out := append(strings.Fields(c.Scope), c.ScopeList...)
	slices.Sort(out)
	return slices.Compact(out)
}

// Parse verifies token against cfg and returns its claims. Tokens must be HS256, carry the
// configured issuer, a subject and an expiry.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return &Claims{
		Subject:   tc.Subject,
		Scopes:    tc.scopes(),
		ExpiresAt: tc.ExpiresAt.Time,
	}, nil
}

// Issue signs a token for subject carrying scopes, valid for ttl.
func Issue(cfg Config, subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte(cfg.Secret))
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}
