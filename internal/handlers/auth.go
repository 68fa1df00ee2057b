package handlers

import (
	"context"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string, client models.ClientInfo) (*models.LoginResult, error)
	CompleteMfaLogin(ctx context.Context, mfaToken, code string, mfaType models.MfaType, client models.ClientInfo) (*models.LoginResult, error)
	SendLoginOtp(ctx context.Context, mfaToken string, client models.ClientInfo) error
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, claims *models.TokenClaims, client models.ClientInfo) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Login handles POST /auth/login. The response carries either a token pair
// or an MFA challenge token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// LoginMfa handles POST /auth/login/mfa, finishing a challenged login.
func (h *AuthHandler) LoginMfa(w http.ResponseWriter, r *http.Request) {
	var req LoginMfaRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	result, err := h.service.CompleteMfaLogin(r.Context(), req.MFAToken, req.Code, models.MfaType(req.MfaType), clientInfo(r, h.ipConfig))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// LoginOtp handles POST /auth/login/mfa/email-otp: emails a login code to the
// user behind a challenge token.
func (h *AuthHandler) LoginOtp(w http.ResponseWriter, r *http.Request) {
	var req LoginOtpRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	if err := h.service.SendLoginOtp(r.Context(), req.MFAToken, clientInfo(r, h.ipConfig)); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "if email verification is available, a code has been sent"})
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Logout handles POST /auth/logout. Requires authentication.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), claims, clientInfo(r, h.ipConfig)); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
