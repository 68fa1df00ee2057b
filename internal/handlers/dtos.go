package handlers

import (
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// Auth DTOs

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

func (r *LoginRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
}

type LoginMfaRequest struct {
	MFAToken string `json:"mfa_token" validate:"required"`
	Code     string `json:"code" validate:"required,mfacode"`
	MfaType  string `json:"mfa_type" validate:"required,mfatype"`
}

type LoginOtpRequest struct {
	MFAToken string `json:"mfa_token" validate:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=256"`
}

// MFA DTOs

type SetupSessionRequest struct {
	SetupSessionID string `json:"setupSessionId" validate:"required,uuid"`
}

// SetupSessionID is optional; the newest pending setup is used when empty.
type VerifySetupRequest struct {
	Code           string `json:"code" validate:"required,len=6,numeric"`
	SetupSessionID string `json:"setupSessionId" validate:"omitempty,uuid"`
}

type VerifySetupResponse struct {
	Valid bool `json:"valid"`
}

type EnableMfaRequest struct {
	TotpCode       string `json:"totpCode" validate:"required,len=6,numeric"`
	SetupSessionID string `json:"setupSessionId" validate:"omitempty,uuid"`
}

// VerifyMfaRequest is the anonymous mid-login check.
type VerifyMfaRequest struct {
	UserID  string `json:"userId" validate:"required,uuid"`
	MfaCode string `json:"mfaCode" validate:"required,mfacode"`
	MfaType string `json:"mfaType" validate:"required,mfatype"`
}

type VerifyMfaResponse struct {
	Valid bool `json:"valid"`
}

type DisableMfaRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=128"`
	MfaCode         string `json:"mfaCode" validate:"required,mfacode"`
	Reason          string `json:"reason" validate:"max=255"`
}

type BackupCodesRequest struct {
	Count int `json:"count" validate:"gte=0,lte=20"`
}

type BackupCodesResponse struct {
	BackupCodes      []string `json:"backupCodes"`
	BackupCodesCount int      `json:"backupCodesCount"`
}

type EmailOtpRequest struct {
	Email   string `json:"email" validate:"required,email,max=254"`
	Purpose string `json:"purpose" validate:"omitempty,oneof=login disable_mfa sensitive_action"`
}

func (r *EmailOtpRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Session DTOs

type SessionListResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
	Count    int                     `json:"count"`
}

type TerminatedResponse struct {
	Terminated int `json:"terminated"`
}

type SessionTimeoutRequest struct {
	TimeoutMinutes int `json:"timeout_minutes" validate:"required,gte=5,lte=43200"`
}

type SessionTimeoutResponse struct {
	TimeoutMinutes int `json:"timeout_minutes"`
}

// Admin DTOs

type ManualLockoutRequest struct {
	Reason          string `json:"reason" validate:"required,max=255"`
	DurationMinutes *int   `json:"duration_minutes" validate:"omitempty,gte=1,lte=525600"`
}

type ReleaseLockoutRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type MfaEnforcementRequest struct {
	Enforced *bool `json:"enforced" validate:"required"`
}

type LockoutHistoryResponse struct {
	Active  *models.LockoutRecord  `json:"active,omitempty"`
	History []models.LockoutRecord `json:"history"`
}

type StatisticsResponse struct {
	Lockouts *models.LockoutStatistics `json:"lockouts"`
	Logins   *models.LoginStatistics   `json:"logins"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status   string    `json:"status"`
	Database string    `json:"database"`
	Cache    string    `json:"cache"`
	Time     time.Time `json:"time"`
}
