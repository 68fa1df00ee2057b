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

// MfaAuditReader pages through a user's MFA audit trail
type MfaAuditReader interface {
	GetAuditLogs(ctx context.Context, userID string, limit, offset int) (*models.MfaAuditPage, error)
}

// AuditHandler handles audit log HTTP requests
type AuditHandler struct {
	reader MfaAuditReader
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(reader MfaAuditReader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

// GetOwnMfaAudit handles GET /mfa/audit for the caller
func (h *AuditHandler) GetOwnMfaAudit(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}
	h.writePage(w, r, claims.UserID)
}

// GetUserMfaAudit handles GET /admin/users/{id}/mfa/audit (admin only)
func (h *AuditHandler) GetUserMfaAudit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "invalid user id")
		return
	}
	h.writePage(w, r, userID)
}

func (h *AuditHandler) writePage(w http.ResponseWriter, r *http.Request, userID string) {
	limit, offset := pagination(r, 20, 100)

	page, err := h.reader.GetAuditLogs(r.Context(), userID, limit, offset)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, page)
}
