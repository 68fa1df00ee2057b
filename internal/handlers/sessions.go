package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// SessionServiceInterface is the session manager as used by the HTTP layer
type SessionServiceInterface interface {
	GetActiveSessions(ctx context.Context, userID, currentID string) ([]models.SessionSummary, error)
	TerminateSession(ctx context.Context, userID, sessionID, reason string, client models.ClientInfo) error
	TerminateAllOtherSessions(ctx context.Context, userID, currentID string, client models.ClientInfo) (int, error)
	UpdateSessionTimeout(ctx context.Context, userID string, minutes int) (*models.SecuritySettings, error)
	GetSessionStatistics(ctx context.Context, userID string) (*models.SessionStatistics, error)
}

// SessionHandler serves the caller's own sessions
type SessionHandler struct {
	service  SessionServiceInterface
	ipConfig *pkghttp.IPConfig
}

func NewSessionHandler(service SessionServiceInterface, ipConfig *pkghttp.IPConfig) *SessionHandler {
	return &SessionHandler{service: service, ipConfig: ipConfig}
}

// List handles GET /sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.service.GetActiveSessions(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions, Count: len(sessions)})
}

// Terminate handles DELETE /sessions/{id}. Another user's session id reads
// as not found.
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(sessionID); err != nil {
		pkghttp.WriteBadRequest(w, "invalid session id")
		return
	}

	err := h.service.TerminateSession(r.Context(), claims.UserID, sessionID, models.TerminationUserRequest, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TerminateOthers handles POST /sessions/terminate-others
func (h *SessionHandler) TerminateOthers(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	n, err := h.service.TerminateAllOtherSessions(r.Context(), claims.UserID, claims.SessionID, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TerminatedResponse{Terminated: n})
}

// UpdateTimeout handles PUT /sessions/timeout
func (h *SessionHandler) UpdateTimeout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req SessionTimeoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	settings, err := h.service.UpdateSessionTimeout(r.Context(), claims.UserID, req.TimeoutMinutes)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionTimeoutResponse{TimeoutMinutes: settings.SessionTimeoutMinutes})
}

// Statistics handles GET /sessions/statistics
func (h *SessionHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	stats, err := h.service.GetSessionStatistics(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}
