package api

import (
	"log/slog"
	"net/http"

	"github.com/HyServers/hyservers-web/internal/metrics"
)

// SessionManager is the admin session capability used by the login routes.
type SessionManager interface {
	Authenticator
	VerifyPassword(candidate string) bool
	Issue(w http.ResponseWriter) (string, error)
	Clear(w http.ResponseWriter, r *http.Request)
}

// SessionHandler serves login, logout and session status.
type SessionHandler struct {
	sessions SessionManager
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionManager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// Login handles POST /api/admin/login.
//
//	@Summary		Exchange the admin password for a session cookie
//	@Tags			admin
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LoginRequest	true	"Password"
//	@Success		200		{object}	SessionResponse
//	@Failure		401		{object}	errResponse
//	@Failure		429		{object}	errResponse
//	@Router			/admin/login [post]
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if !h.sessions.VerifyPassword(req.Password) {
		metrics.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
		h.logger.Warn("admin login rejected", slog.String("remote", clientKey(r)))
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid password"))
		return
	}
	if _, err := h.sessions.Issue(w); err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		h.logger.Error("issue session failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	metrics.LoginAttemptsTotal.WithLabelValues("ok").Inc()
	h.logger.Info("admin logged in", slog.String("remote", clientKey(r)))
	writeJSON(w, http.StatusOK, SessionResponse{Authenticated: true})
}

// Logout handles POST /api/admin/logout.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w, r)
	writeJSON(w, http.StatusOK, SessionResponse{Authenticated: false})
}

// Session handles GET /api/admin/session.
func (h *SessionHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{Authenticated: h.sessions.IsAuthenticated(r)})
}
