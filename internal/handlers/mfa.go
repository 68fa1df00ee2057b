package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// MfaServiceInterface is the MFA engine as used by the HTTP layer
type MfaServiceInterface interface {
	SetupTotp(ctx context.Context, userID string, client models.ClientInfo) (*models.MfaSetupResult, error)
	RegenerateQrCode(ctx context.Context, userID, setupSessionID string, client models.ClientInfo) (*models.MfaSetupResult, error)
	VerifyTotpSetup(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (bool, error)
	EnableMfa(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (*models.MfaEnableResult, error)
	Verify(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error)
	DisableMfa(ctx context.Context, userID, password, code, reason string, client models.ClientInfo) error
	GenerateBackupCodes(ctx context.Context, userID string, count int, client models.ClientInfo) ([]string, error)
	GetStatus(ctx context.Context, userID string) (*models.MfaStatus, error)
	SendEmailOtp(ctx context.Context, email, purpose string, client models.ClientInfo) error
}

// MFAHandler handles MFA-related HTTP requests
type MFAHandler struct {
	service  MfaServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(service MfaServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Setup handles POST /mfa/setup to begin TOTP enrollment
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	result, err := h.service.SetupTotp(r.Context(), user.UserID, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Regenerate handles POST /mfa/setup/regenerate: a fresh 60s window over the
// same pending secret.
func (h *MFAHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req SetupSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	result, err := h.service.RegenerateQrCode(r.Context(), user.UserID, req.SetupSessionID, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// VerifySetup handles POST /mfa/setup/verify. It only checks the code.
func (h *MFAHandler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req VerifySetupRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	valid, err := h.service.VerifyTotpSetup(r.Context(), user.UserID, req.Code, req.SetupSessionID, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifySetupResponse{Valid: valid})
}

// Enable handles POST /mfa/enable. Backup codes appear in this response only.
func (h *MFAHandler) Enable(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req EnableMfaRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	result, err := h.service.EnableMfa(r.Context(), user.UserID, req.TotpCode, req.SetupSessionID, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Verify handles the anonymous POST /mfa/verify. Any failure that is not a
// throttle or an outage reads as valid=false.
func (h *MFAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyMfaRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	valid, err := h.service.Verify(r.Context(), req.UserID, req.MfaCode, models.MfaType(req.MfaType), clientInfo(r, h.ipConfig))
	if err != nil {
		if isThrottleOrOutage(err) {
			pkghttp.WriteServiceError(w, err)
			return
		}
		valid = false
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyMfaResponse{Valid: valid})
}

// Disable handles POST /mfa/disable. Needs the password and a second factor.
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req DisableMfaRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	err := h.service.DisableMfa(r.Context(), user.UserID, req.CurrentPassword, req.MfaCode, strings.TrimSpace(req.Reason), clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "mfa disabled"})
}

// BackupCodes handles POST /mfa/backup-codes. Previous codes stop working.
func (h *MFAHandler) BackupCodes(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req BackupCodesRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	codes, err := h.service.GenerateBackupCodes(r.Context(), user.UserID, req.Count, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes, BackupCodesCount: len(codes)})
}

// Status handles GET /mfa/status
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	status, err := h.service.GetStatus(r.Context(), user.UserID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// EmailOtp handles the anonymous POST /mfa/email-otp. The response is the
// same whether or not the address belongs to an account.
func (h *MFAHandler) EmailOtp(w http.ResponseWriter, r *http.Request) {
	var req EmailOtpRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	purpose := req.Purpose
	if purpose == "" {
		purpose = models.OTPPurposeLogin
	}
	if err := h.service.SendEmailOtp(r.Context(), req.Email, purpose, clientInfo(r, h.ipConfig)); err != nil {
		if isThrottleOrOutage(err) {
			pkghttp.WriteServiceError(w, err)
			return
		}
		h.logger.WarnContext(r.Context(), "email otp send rejected", slog.String("error", err.Error()))
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "if the address is registered, a code has been sent"})
}

func isThrottleOrOutage(err error) bool {
	return errors.Is(err, models.ErrRateLimited) || errors.Is(err, models.ErrInternal)
}
