package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/escape-exam/score-service/internal/config"
	"github.com/escape-exam/score-service/internal/domain"
	"github.com/escape-exam/score-service/internal/metrics"
	"github.com/escape-exam/score-service/internal/service"
)

// Response messages shown to the game client
const (
	msgCreated       = "Score saved successfully!"
	msgUpdated       = "Score updated (higher)."
	msgNotHigher     = "Existing score is higher or equal; not updated."
	msgUnavailable   = "Database not available"
	msgSaveFailed    = "Failed to save score"
	msgFetchFailed   = "Failed to fetch leaderboard"
	msgBadLimit      = "Invalid limit"
	msgAuthDisabled  = "Google auth not available on server"
	msgMissingToken  = "Missing id_token"
	msgInvalidToken  = "Invalid ID token"
	msgAuthDBFailure = "Database error"
)

// HealthReporter reports the last known store connectivity
type HealthReporter interface {
	Connected() bool
}

// Handler provides HTTP handlers for the score API
type Handler struct {
	service *service.ScoreService
	health  HealthReporter
	hub     http.Handler
	metrics *metrics.Manager
	origins []string
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. hub may be nil to disable /ws.
func NewHandler(
	svc *service.ScoreService,
	health HealthReporter,
	hub http.Handler,
	m *metrics.Manager,
	cors *config.CORSConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service: svc,
		health:  health,
		hub:     hub,
		metrics: m,
		origins: cors.AllowedOrigins,
		logger:  logger,
	}
}

type submitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

type scoresResponse struct {
	Success bool                      `json:"success"`
	Scores  []domain.LeaderboardEntry `json:"scores"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

type signInRequest struct {
	IDToken string `json:"id_token"`
}

type signInResponse struct {
	Success bool   `json:"success"`
	Account string `json:"account"`
	Name    string `json:"name"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)
	r.Use(h.metricsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)
		r.With(middleware.Compress(5)).Get("/scores", h.GetScores)
		r.Post("/score", h.SubmitScore)
		r.Post("/auth/google", h.SignInGoogle)
	})

	if h.hub != nil {
		r.Get("/ws", h.hub.ServeHTTP)
	}
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	return r
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := h.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allowOrigin returns the value for Access-Control-Allow-Origin, or "" when
// the origin is not allowed
func (h *Handler) allowOrigin(origin string) string {
	for _, allowed := range h.origins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// writeStoreError maps a store failure to 503 or 500
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, failed string) {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		h.writeError(w, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	h.writeError(w, http.StatusInternalServerError, failed)
}

// HealthCheck reports process health and the last known store connectivity
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	database := "disconnected"
	if h.health != nil && h.health.Connected() {
		database = "connected"
	}
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Database: database})
}

// SubmitScore records a player's score if it beats their best
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var submission domain.ScoreSubmission
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		h.writeError(w, http.StatusBadRequest, (&domain.ValidationError{Code: domain.CodeMissingField}).Message())
		return
	}

	outcome, err := h.service.Submit(r.Context(), submission)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			h.writeError(w, http.StatusBadRequest, verr.Message())
			return
		}
		h.writeStoreError(w, err, msgSaveFailed)
		return
	}

	switch outcome.Kind {
	case domain.OutcomeCreated:
		h.writeJSON(w, http.StatusCreated, submitResponse{Success: true, ID: outcome.ID, Message: msgCreated})
	case domain.OutcomeUpdated:
		h.writeJSON(w, http.StatusOK, submitResponse{Success: true, ID: outcome.ID, Message: msgUpdated})
	default:
		h.writeJSON(w, http.StatusOK, submitResponse{Success: false, Message: msgNotHigher})
	}
}

// GetScores returns the top of the leaderboard. ?limit=n overrides the default
// page size up to the configured maximum.
func (h *Handler) GetScores(w http.ResponseWriter, r *http.Request) {
	var (
		entries []domain.LeaderboardEntry
		err     error
	)

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, convErr := strconv.Atoi(limitStr)
		if convErr != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, msgBadLimit)
			return
		}
		entries, err = h.service.Leaderboard(r.Context(), limit)
	} else {
		entries, err = h.service.DefaultLeaderboard(r.Context())
	}
	if err != nil {
		h.writeStoreError(w, err, msgFetchFailed)
		return
	}

	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	h.writeJSON(w, http.StatusOK, scoresResponse{Success: true, Scores: entries})
}

// SignInGoogle verifies a Google ID token and records the player
func (h *Handler) SignInGoogle(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.IDToken = ""
	}

	profile, err := h.service.SignIn(r.Context(), req.IDToken)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, signInResponse{Success: true, Account: profile.Account, Name: profile.Name})
	case errors.Is(err, domain.ErrCapabilityUnavailable):
		h.writeError(w, http.StatusNotImplemented, msgAuthDisabled)
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, msgMissingToken)
	case errors.Is(err, domain.ErrIdentityVerificationFailed):
		h.writeError(w, http.StatusBadRequest, msgInvalidToken)
	default:
		h.writeError(w, http.StatusInternalServerError, msgAuthDBFailure)
	}
}
