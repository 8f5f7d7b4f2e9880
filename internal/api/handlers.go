// Package api exposes the health dashboard HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"example.com/healthdash/internal/auth"
	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/fitbit"
	"example.com/healthdash/internal/healthsync"
)

const (
	defaultDays       = 7
	defaultWeightDays = 30
	maxDays           = 365

	stateCookie = "healthdash_oauth_state"
)

// SyncTrigger runs one reconciliation cycle on demand.
type SyncTrigger interface {
	Sync(ctx context.Context, date string) (healthsync.Result, error)
	Today() string
}

// OAuthFlow drives the Fitbit authorization-code grant.
type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (fitbit.Token, error)
}

// CredentialSaver persists a freshly exchanged grant.
type CredentialSaver interface {
	SaveFromExchange(ctx context.Context, userID string, tok fitbit.Token) error
}

// Dependencies groups the collaborators of Handler. Sync and OAuth routes are only
// registered when their collaborators are present.
type Dependencies struct {
	Service     *domain.Service
	Syncer      SyncTrigger
	OAuth       OAuthFlow
	Credentials CredentialSaver
	UserID      string
	Logger      *log.Logger
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service     *domain.Service
	syncer      SyncTrigger
	oauth       OAuthFlow
	credentials CredentialSaver
	userID      string
	logger      *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lshortfile)
	}
	return &Handler{
		service:     deps.Service,
		syncer:      deps.Syncer,
		oauth:       deps.OAuth,
		credentials: deps.Credentials,
		userID:      deps.UserID,
		logger:      logger,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", healthz)

	mux.HandleFunc("GET /v1/health/summary", h.listSummaries)
	mux.HandleFunc("GET /v1/health/summary/{date}", h.getSummary)
	mux.HandleFunc("GET /v1/health/activity", h.listActivity)
	mux.HandleFunc("GET /v1/health/sleep", h.listSleep)
	mux.HandleFunc("GET /v1/health/heartrate", h.listHeartRate)
	mux.HandleFunc("GET /v1/health/weight", h.listWeight)

	if h.syncer != nil {
		mux.HandleFunc("POST /v1/sync", h.triggerSync)
	}
	if h.oauth != nil && h.credentials != nil {
		mux.HandleFunc("GET /oauth/authorize", h.authorize)
		mux.HandleFunc("GET /oauth/callback", h.callback)
	}
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Period echoes the window a list response covers.
type Period struct {
	Days    int    `json:"days"`
	EndDate string `json:"end_date"`
}

// ListResponse wraps every read-API list.
type ListResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Period  Period      `json:"period"`
}

// ItemResponse wraps a single-item read.
type ItemResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// ConnectResponse is returned once the OAuth callback stored a credential.
type ConnectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) listSummaries(w http.ResponseWriter, r *http.Request) {
	listWindow(h, w, r, defaultDays, h.service.ListSummaries)
}

func (h *Handler) listActivity(w http.ResponseWriter, r *http.Request) {
	listWindow(h, w, r, defaultDays, h.service.ListActivity)
}

func (h *Handler) listSleep(w http.ResponseWriter, r *http.Request) {
	listWindow(h, w, r, defaultDays, h.service.ListSleep)
}

func (h *Handler) listHeartRate(w http.ResponseWriter, r *http.Request) {
	listWindow(h, w, r, defaultDays, h.service.ListHeartRate)
}

func (h *Handler) listWeight(w http.ResponseWriter, r *http.Request) {
	listWindow(h, w, r, defaultWeightDays, h.service.ListWeight)
}

func listWindow[T any](h *Handler, w http.ResponseWriter, r *http.Request, fallbackDays int, list func(context.Context, domain.DateRange) ([]T, error)) {
	if !requireScope(w, r, auth.ScopeHealthRead) {
		return
	}

	period, rng, err := h.parsePeriod(r, fallbackDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	rows, err := list(r.Context(), rng)
	if err != nil {
		h.logger.Printf("list %s: %v", r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "server_error", "unable to load data")
		return
	}
	if rows == nil {
		rows = []T{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Success: true, Data: rows, Period: period})
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeHealthRead) {
		return
	}

	date := r.PathValue("date")
	if !validDate(date) {
		writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
		return
	}

	summary, err := h.service.GetSummary(r.Context(), date)
	if err != nil {
		if errors.Is(err, domain.ErrSummaryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no summary for "+date)
			return
		}
		h.logger.Printf("get summary %s: %v", date, err)
		writeError(w, http.StatusInternalServerError, "server_error", "unable to load summary")
		return
	}
	writeJSON(w, http.StatusOK, ItemResponse{Success: true, Data: summary})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeHealthSync) {
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.syncer.Today()
	} else if !validDate(date) {
		writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
		return
	}

	result, err := h.syncer.Sync(r.Context(), date)
	if err != nil {
		if domain.NeedsReconnect(err) {
			writeError(w, http.StatusUnauthorized, "not_connected", "Fitbit account is not connected, please connect at /oauth/authorize")
			return
		}
		h.logger.Printf("sync %s: %v", date, err)
		writeError(w, http.StatusInternalServerError, "server_error", "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, ItemResponse{Success: true, Data: result})
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/oauth/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if denied := query.Get("error"); denied != "" {
		writeError(w, http.StatusBadRequest, "authorization_denied", denied)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != query.Get("state") {
		writeError(w, http.StatusBadRequest, "invalid_state", "oauth state mismatch, restart at /oauth/authorize")
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing code parameter")
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Printf("exchange authorization code: %v", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "authorization code exchange failed")
		return
	}
	if err := h.credentials.SaveFromExchange(r.Context(), h.userID, tok); err != nil {
		h.logger.Printf("save credential: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "unable to store credential")
		return
	}

	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/oauth/", MaxAge: -1, HttpOnly: true})
	writeJSON(w, http.StatusOK, ConnectResponse{Success: true, Message: "Fitbit account connected"})
}

func (h *Handler) parsePeriod(r *http.Request, fallbackDays int) (Period, domain.DateRange, error) {
	days := fallbackDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxDays {
			return Period{}, domain.DateRange{}, errors.New("days must be between 1 and 365")
		}
		days = parsed
	}

	end := h.service.Today()
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			return Period{}, domain.DateRange{}, errors.New("end_date must be YYYY-MM-DD")
		}
		end = parsed
	}

	rng := domain.RangeEnding(end, days)
	return Period{Days: days, EndDate: rng.To}, rng, nil
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return false
	}
	return true
}

func validDate(value string) bool {
	_, err := time.Parse(domain.DateLayout, value)
	return err == nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
