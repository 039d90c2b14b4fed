// Package httpapi exposes the assistant over HTTP with JSON bodies.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nhle/mail-assistant/internal/app"
	"github.com/nhle/mail-assistant/internal/llm"
	"github.com/nhle/mail-assistant/internal/mailbox"
	"github.com/nhle/mail-assistant/internal/model"
	"github.com/nhle/mail-assistant/internal/observability"
	"github.com/nhle/mail-assistant/internal/session"
	"github.com/nhle/mail-assistant/internal/store"
)

const (
	sessionHeader = "X-Session-ID"
	sessionCookie = "session_id"

	maxBodyBytes = 1 << 20
)

type Server struct {
	svc *app.Service
}

// NewServer returns the HTTP handler for svc with its middleware applied.
func NewServer(svc *app.Service) http.Handler {
	s := &Server{svc: svc}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/settings/api-key", s.handleSetAPIKey)
	mux.HandleFunc("POST /api/settings/gemini", s.handleSetGeminiKey)
	mux.HandleFunc("POST /api/history/clear", s.handleClearHistory)
	mux.HandleFunc("GET /api/emails", s.handleEmails)
	mux.HandleFunc("POST /api/agent", s.handleAgent)
	mux.HandleFunc("GET /api/activity", s.handleActivity)
	mux.HandleFunc("GET /api/scheduled", s.handleScheduled)

	return chainMiddlewares(mux, withRecover, withLogging, withRequestID, withCORS)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

type loginResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
}

type setAPIKeyRequest struct {
	Key      string `json:"key"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Remember bool   `json:"remember,omitempty"`
}

type agentRequest struct {
	Command   string `json:"command"`
	APIKey    string `json:"api_key,omitempty"`
	GeminiKey string `json:"gemini_key,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type emailsResponse struct {
	Emails []model.Message `json:"emails"`
	Error  string          `json:"error,omitempty"`
}

type activityResponse struct {
	Activity []store.Activity `json:"activity"`
}

type scheduledResponse struct {
	Drafts []store.ScheduledDraft `json:"drafts"`
}

var success = statusResponse{Status: "success"}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		badRequest(w, "email is required")
		return
	}

	sess, err := s.svc.Login(r.Context(), app.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Remember: req.Remember,
	})
	if err != nil {
		if mailbox.IsAuthError(err) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Status:    "success",
		SessionID: sess.ID,
		Email:     sess.Address,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := sessionID(r); id != "" {
		s.svc.Logout(r.Context(), id)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status(sessionID(r)))
}

func (s *Server) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	var req setAPIKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.setAPIKey(w, r, req)
}

func (s *Server) handleSetGeminiKey(w http.ResponseWriter, r *http.Request) {
	var req setAPIKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Provider = llm.ProviderGemini
	s.setAPIKey(w, r, req)
}

func (s *Server) setAPIKey(w http.ResponseWriter, r *http.Request, req setAPIKeyRequest) {
	err := s.svc.SetAPIKey(r.Context(), app.SetAPIKeyInput{
		SessionID: sessionID(r),
		Key:       req.Key,
		Provider:  req.Provider,
		Model:     req.Model,
		Remember:  req.Remember,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearHistory(sessionID(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.Emails(r.Context(), sessionID(r))
	if errors.Is(err, session.ErrAuthenticationRequired) {
		writeServiceError(w, r, err)
		return
	}
	if err != nil {
		observability.LoggerFromContext(r.Context()).WarnContext(r.Context(), "listing emails", "error", err)
		writeJSON(w, http.StatusOK, emailsResponse{Emails: []model.Message{}, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, emailsResponse{Emails: msgs})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key := req.APIKey
	if key == "" {
		key = req.GeminiKey
	}

	reply, err := s.svc.RunAgent(r.Context(), app.AgentInput{
		SessionID: sessionID(r),
		Command:   req.Command,
		APIKey:    key,
		Provider:  req.Provider,
		Model:     req.Model,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	out, err := s.svc.Activity(r.Context(), sessionID(r), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activityResponse{Activity: out})
}

func (s *Server) handleScheduled(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ScheduledDrafts(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduledResponse{Drafts: out})
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

// sessionID reads the session from the X-Session-ID header or the
// session_id cookie.
func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, "Please login first")
	case errors.Is(err, app.ErrEmptyCommand), errors.Is(err, app.ErrAPIKeyRequired):
		badRequest(w, err.Error())
	default:
		var te *mailbox.TransportError
		if errors.As(err, &te) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		observability.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}
