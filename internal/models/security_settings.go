package models

import (
	"fmt"
	"time"
)

// SecuritySettings holds per-user policy overrides. Users without a row get
// the configured defaults.
type SecuritySettings struct {
	UserID                      string    `json:"user_id" db:"user_id"`
	MaxFailedAttempts           int       `json:"max_failed_attempts" db:"max_failed_attempts"`
	LockoutWindowMinutes        int       `json:"lockout_window_minutes" db:"lockout_window_minutes"`
	InitialLockoutMinutes       int       `json:"initial_lockout_minutes" db:"initial_lockout_minutes"`
	MaxLockoutMinutes           int       `json:"max_lockout_minutes" db:"max_lockout_minutes"`
	ProgressiveMultiplier       float64   `json:"progressive_multiplier" db:"progressive_multiplier"`
	EnableProgressiveLockout    bool      `json:"enable_progressive_lockout" db:"enable_progressive_lockout"`
	SuspiciousActivityThreshold float64   `json:"suspicious_activity_threshold" db:"suspicious_activity_threshold"`
	MaxConcurrentSessions       int       `json:"max_concurrent_sessions" db:"max_concurrent_sessions"`
	SessionTimeoutMinutes       int       `json:"session_timeout_minutes" db:"session_timeout_minutes"`
	SendSecurityAlerts          bool      `json:"send_security_alerts" db:"send_security_alerts"`
	UpdatedAt                   time.Time `json:"updated_at" db:"updated_at"`
}

func (s *SecuritySettings) LockoutWindow() time.Duration {
	return time.Duration(s.LockoutWindowMinutes) * time.Minute
}

func (s *SecuritySettings) SessionTimeout() time.Duration {
	return time.Duration(s.SessionTimeoutMinutes) * time.Minute
}

// Validate returns the first out-of-range value, wrapped in ErrInvalidRequest.
func (s *SecuritySettings) Validate() error {
	switch {
	case s.MaxFailedAttempts < 1 || s.MaxFailedAttempts > 100:
		return fmt.Errorf("%w: max_failed_attempts must be between 1 and 100", ErrInvalidRequest)
	case s.LockoutWindowMinutes < 1 || s.LockoutWindowMinutes > 1440:
		return fmt.Errorf("%w: lockout_window_minutes must be between 1 and 1440", ErrInvalidRequest)
	case s.InitialLockoutMinutes < 1:
		return fmt.Errorf("%w: initial_lockout_minutes must be positive", ErrInvalidRequest)
	case s.MaxLockoutMinutes < s.InitialLockoutMinutes:
		return fmt.Errorf("%w: max_lockout_minutes must not be below initial_lockout_minutes", ErrInvalidRequest)
	case s.ProgressiveMultiplier < 1 || s.ProgressiveMultiplier > 10:
		return fmt.Errorf("%w: progressive_multiplier must be between 1 and 10", ErrInvalidRequest)
	case s.SuspiciousActivityThreshold <= 0 || s.SuspiciousActivityThreshold > 1:
		return fmt.Errorf("%w: suspicious_activity_threshold must be in (0, 1]", ErrInvalidRequest)
	case s.MaxConcurrentSessions < 1 || s.MaxConcurrentSessions > 100:
		return fmt.Errorf("%w: max_concurrent_sessions must be between 1 and 100", ErrInvalidRequest)
	case s.SessionTimeoutMinutes < 5 || s.SessionTimeoutMinutes > 43200:
		return fmt.Errorf("%w: session_timeout_minutes must be between 5 and 43200", ErrInvalidRequest)
	}
	return nil
}
