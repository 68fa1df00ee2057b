package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// LockoutAdminInterface defines the lockout operations exposed to admins.
type LockoutAdminInterface interface {
	ManualLockout(ctx context.Context, userID, actorID, reason string, duration *time.Duration, client models.ClientInfo) (*models.LockoutRecord, error)
	ReleaseLockout(ctx context.Context, userID, actorID, reason string, client models.ClientInfo) error
	GetActiveLockout(ctx context.Context, userID string) (*models.LockoutRecord, error)
	LockoutHistory(ctx context.Context, userID string, limit int) ([]models.LockoutRecord, error)
	GetLockoutStatistics(ctx context.Context, from, to time.Time) (*models.LockoutStatistics, error)
	GetLoginStatistics(ctx context.Context, from, to time.Time) (*models.LoginStatistics, error)
}

// MfaEnforcer toggles per-user MFA enforcement.
type MfaEnforcer interface {
	SetEnforcement(ctx context.Context, userID string, enforced bool, client models.ClientInfo) (*models.MfaStatus, error)
}

// AdminHandler handles admin-only lockout and policy requests.
type AdminHandler struct {
	lockouts LockoutAdminInterface
	mfa      MfaEnforcer
	ipConfig *pkghttp.IPConfig
	now      func() time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(lockouts LockoutAdminInterface, mfa MfaEnforcer, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{lockouts: lockouts, mfa: mfa, ipConfig: ipConfig, now: time.Now}
}

// LockUser handles POST /admin/users/{id}/lockout. Omitting duration_minutes
// locks until an admin releases the account.
func (h *AdminHandler) LockUser(w http.ResponseWriter, r *http.Request) {
	actor, userID, ok := h.target(w, r)
	if !ok {
		return
	}

	var req ManualLockoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	var duration *time.Duration
	if req.DurationMinutes != nil {
		d := time.Duration(*req.DurationMinutes) * time.Minute
		duration = &d
	}

	record, err := h.lockouts.ManualLockout(r.Context(), userID, actor.UserID, strings.TrimSpace(req.Reason), duration, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, record)
}

// UnlockUser handles DELETE /admin/users/{id}/lockout
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	actor, userID, ok := h.target(w, r)
	if !ok {
		return
	}

	var req ReleaseLockoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	if err := h.lockouts.ReleaseLockout(r.Context(), userID, actor.UserID, strings.TrimSpace(req.Reason), clientInfo(r, h.ipConfig)); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetLockouts handles GET /admin/users/{id}/lockouts
// Accepts optional query param ?limit=N (1–100, default 20).
func (h *AdminHandler) GetLockouts(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := h.target(w, r)
	if !ok {
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	active, err := h.lockouts.GetActiveLockout(r.Context(), userID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}
	history, err := h.lockouts.LockoutHistory(r.Context(), userID, limit)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}
	if history == nil {
		history = []models.LockoutRecord{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, LockoutHistoryResponse{Active: active, History: history})
}

// GetStatistics handles GET /admin/statistics?from=&to= (RFC 3339, default
// the last 24 hours).
func (h *AdminHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	from, to, ok := timeRange(r, h.now(), 24*time.Hour)
	if !ok {
		pkghttp.WriteBadRequest(w, "from and to must be RFC 3339 timestamps")
		return
	}

	lockouts, err := h.lockouts.GetLockoutStatistics(r.Context(), from, to)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}
	logins, err := h.lockouts.GetLoginStatistics(r.Context(), from, to)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, StatisticsResponse{Lockouts: lockouts, Logins: logins})
}

// SetMfaEnforcement handles PUT /admin/users/{id}/mfa/enforcement
func (h *AdminHandler) SetMfaEnforcement(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := h.target(w, r)
	if !ok {
		return
	}

	var req MfaEnforcementRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	status, err := h.mfa.SetEnforcement(r.Context(), userID, *req.Enforced, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// target returns the acting admin and the user id from the path.
func (h *AdminHandler) target(w http.ResponseWriter, r *http.Request) (*models.TokenClaims, string, bool) {
	actor := auth.GetUserFromContext(r)
	if actor == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return nil, "", false
	}

	userID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "invalid user id")
		return nil, "", false
	}
	return actor, userID, true
}
