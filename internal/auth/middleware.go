package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Middleware rejects requests without a valid bearer token, except for public paths.
type Middleware struct {
	cfg    Config
	public func(*http.Request) bool
}

// NewMiddleware constructs Middleware that leaves health checks, metrics and the OAuth flow public.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{cfg: cfg, public: PublicPaths}
}

// PublicPaths reports whether r targets an endpoint that needs no bearer token.
func PublicPaths(r *http.Request) bool {
	switch path := r.URL.Path; {
	case path == "/healthz", path == "/metrics":
		return true
	default:
		return strings.HasPrefix(path, "/oauth/")
	}
}

// Wrap verifies the bearer token and stores its claims on the request context.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.public != nil && m.public(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := Parse(bearerToken(r), m.cfg)
		if err != nil {
			challenge := `Bearer realm="healthdash"`
			if !errors.Is(err, ErrMissingToken) {
				challenge += `, error="invalid_token"`
			}
			w.Header().Set("WWW-Authenticate", challenge)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "detail": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// bearerToken extracts the credentials of an "Authorization: Bearer" header. Any other scheme
// yields an empty token.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return token
}
