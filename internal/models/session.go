package models

import "time"

// Termination reasons
const (
	TerminationLogout          = "logout"
	TerminationConcurrentLimit = "concurrent_session_limit"
	TerminationUserRequest     = "user_terminated"
	TerminationOtherSessions   = "terminated_by_other_session"
	TerminationAllSessions     = "all_sessions_terminated"
	TerminationExpired         = "expired"
	TerminationSecurity        = "security_revocation"
)

// UserSession is one authenticated session. Expired and terminated are terminal.
type UserSession struct {
	ID                string        `db:"id"`
	UserID            string        `db:"user_id"`
	SessionTokenHash  string        `db:"session_token_hash"`
	RefreshTokenHash  string        `db:"refresh_token_hash"`
	IPAddress         string        `db:"ip_address"`
	UserAgent         string        `db:"user_agent"`
	Device            *DeviceInfo   `db:"device_info"`
	Location          *LocationInfo `db:"location_info"`
	IsSuspicious      bool          `db:"is_suspicious"`
	CreatedAt         time.Time     `db:"created_at"`
	LastActivityAt    time.Time     `db:"last_activity_at"`
	ExpiresAt         time.Time     `db:"expires_at"`
	RefreshExpiresAt  time.Time     `db:"refresh_expires_at"`
	IsActive          bool          `db:"is_active"`
	TerminatedAt      *time.Time    `db:"terminated_at"`
	TerminationReason *string       `db:"termination_reason"`
}

// IsLive reports whether the session is still usable at now.
func (s *UserSession) IsLive(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

// NewSession holds everything needed to admit a session.
type NewSession struct {
	UserID string
	Client ClientInfo
	Device *DeviceInfo
}

// CreatedSession is the result of admission. The raw tokens are only ever
// available here.
type CreatedSession struct {
	Session      *UserSession
	SessionToken string
	RefreshToken string
	Terminated   []UserSession
	Suspicious   bool
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID             string        `json:"id"`
	IPAddress      string        `json:"ip_address"`
	Device         *DeviceInfo   `json:"device,omitempty"`
	Location       *LocationInfo `json:"location,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	IsCurrent      bool          `json:"is_current"`
	IsSuspicious   bool          `json:"is_suspicious"`
	ActivityScore  int           `json:"activity_score"`
}

type SessionStatistics struct {
	TotalSessions      int            `json:"total_sessions"`
	ActiveSessions     int            `json:"active_sessions"`
	ExpiredSessions    int            `json:"expired_sessions"`
	SuspiciousSessions int            `json:"suspicious_sessions"`
	LastLoginAt        *time.Time     `json:"last_login_at,omitempty"`
	DeviceBreakdown    map[string]int `json:"device_breakdown"`
	LocationBreakdown  map[string]int `json:"location_breakdown"`
}
