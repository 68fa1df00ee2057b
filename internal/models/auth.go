package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim
const (
	TokenTypeAccess       = "access"
	TokenTypeMFAChallenge = "mfa_challenge"
)

type TokenClaims struct {
	Type      string   `json:"type"`
	UserID    string   `json:"user_id"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	SessionID string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims grant role.
func (c *TokenClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenPair is returned after a completed login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	SessionID        string    `json:"session_id"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// LoginResult is either a full token pair or an MFA challenge.
type LoginResult struct {
	Tokens             *TokenPair `json:"tokens,omitempty"`
	MFARequired        bool       `json:"mfa_required"`
	MFAToken           string     `json:"mfa_token,omitempty"` // 5-minute JWT for the MFA challenge
	AvailableMethods   []MfaType  `json:"available_methods,omitempty"`
	TerminatedSessions []string   `json:"terminated_sessions,omitempty"`
	RiskScore          float64    `json:"-"`
}
