package models

import (
	"time"
)

type MfaType string

const (
	MfaTypeTOTP       MfaType = "TOTP"
	MfaTypeBackupCode MfaType = "BackupCode"
	MfaTypeEmailOTP   MfaType = "EmailOTP"
)

func (t MfaType) Valid() bool {
	switch t {
	case MfaTypeTOTP, MfaTypeBackupCode, MfaTypeEmailOTP:
		return true
	}
	return false
}

// Email OTP purposes. Send limits and stored codes are scoped per purpose.
const (
	OTPPurposeLogin      = "login"
	OTPPurposeDisableMFA = "disable_mfa"
	OTPPurposeSensitive  = "sensitive_action"
)

// MfaSettings is the per-user MFA configuration. Rows are never hard-deleted.
type MfaSettings struct {
	UserID                    string     `db:"user_id"`
	IsEnabled                 bool       `db:"is_enabled"`
	IsEnforced                bool       `db:"is_enforced"`
	EncryptedTotpSecret       *string    `db:"encrypted_totp_secret"` // sealed, never plaintext
	BackupCodesRemaining      int        `db:"backup_codes_remaining"`
	EmailOtpEnabled           bool       `db:"email_otp_enabled"`
	EnabledAt                 *time.Time `db:"enabled_at"`
	LastUsedAt                *time.Time `db:"last_used_at"`
	EnforcementGracePeriodEnd *time.Time `db:"enforcement_grace_period_end"`
	CreatedAt                 time.Time  `db:"created_at"`
	UpdatedAt                 time.Time  `db:"updated_at"`
}

// MfaSetupSession is the pending-setup state held in the shared cache.
type MfaSetupSession struct {
	UserID         string    `json:"user_id"`
	SetupSessionID string    `json:"setup_session_id"`
	SealedSecret   string    `json:"sealed_secret"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// BackupCode is one single-use recovery code. Used codes are kept, not deleted.
type BackupCode struct {
	ID            string     `db:"id"`
	UserID        string     `db:"user_id"`
	CodeHash      string     `db:"code_hash"`
	Used          bool       `db:"used"`
	UsedAt        *time.Time `db:"used_at"`
	InvalidatedAt *time.Time `db:"invalidated_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

// MfaSetupResult is returned by setup and regenerate. SecretKey is shown once
// so the user can type it into an authenticator manually.
type MfaSetupResult struct {
	SecretKey          string `json:"secretKey"`
	QRCodeURI          string `json:"qrCodeUri"`
	QRCodeImage        string `json:"qrCodeImage,omitempty"` // PNG data URL
	FormattedSecretKey string `json:"formattedSecretKey"`
	SetupSessionID     string `json:"setupSessionId"`
	ExpiresInSeconds   int    `json:"expiresInSeconds"`
}

type MfaEnableResult struct {
	IsEnabled        bool      `json:"isEnabled"`
	BackupCodes      []string  `json:"backupCodes"`
	BackupCodesCount int       `json:"backupCodesCount"`
	EnabledAt        time.Time `json:"enabledAt"`
}

type MfaStatus struct {
	IsEnabled                 bool       `json:"isEnabled"`
	IsEnforced                bool       `json:"isEnforced"`
	AvailableMethods          []MfaType  `json:"availableMethods"`
	BackupCodesRemaining      int        `json:"backupCodesRemaining"`
	EnforcementGracePeriodEnd *time.Time `json:"enforcementGracePeriodEnd,omitempty"`
	EnabledAt                 *time.Time `json:"enabledAt,omitempty"`
	LastUsedAt                *time.Time `json:"lastUsedAt,omitempty"`
}

type MfaAction string

const (
	MfaActionSetupInitiated         MfaAction = "setup_initiated"
	MfaActionSetupRegenerated       MfaAction = "setup_regenerated"
	MfaActionSetupVerified          MfaAction = "setup_verified"
	MfaActionEnabled                MfaAction = "enabled"
	MfaActionDisabled               MfaAction = "disabled"
	MfaActionVerify                 MfaAction = "verify"
	MfaActionBackupCodesRegenerated MfaAction = "backup_codes_regenerated"
	MfaActionEmailOTPSent           MfaAction = "email_otp_sent"
	MfaActionEnforcementChanged     MfaAction = "enforcement_changed"
)

// MfaAuditLog is an append-only audit entry.
type MfaAuditLog struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	Action        MfaAction `db:"action" json:"action"`
	Method        *MfaType  `db:"method" json:"method,omitempty"`
	Success       bool      `db:"success" json:"success"`
	FailureReason *string   `db:"failure_reason" json:"failure_reason,omitempty"`
	IPAddress     string    `db:"ip_address" json:"ip_address"`
	UserAgent     string    `db:"user_agent" json:"user_agent"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// MfaAuditPage is one page of a user's MFA audit trail.
type MfaAuditPage struct {
	Entries []MfaAuditLog `json:"entries"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}
