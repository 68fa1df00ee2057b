package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Failure reasons recorded on LoginAttempt rows
const (
	FailureReasonInvalidCredentials = "invalid_credentials"
	FailureReasonUnknownUser        = "unknown_user"
	FailureReasonAccountLocked      = "account_locked"
	FailureReasonIPBlocked          = "ip_blocked"
	FailureReasonMFAFailed          = "mfa_failed"
	FailureReasonAccountInactive    = "account_inactive"
)

// LoginAttempt represents a single authentication try. Rows are immutable.
type LoginAttempt struct {
	ID                string        `db:"id"`
	UserID            *string       `db:"user_id"`
	Identifier        string        `db:"identifier"`
	Success           bool          `db:"success"`
	FailureReason     *string       `db:"failure_reason"`
	IPAddress         string        `db:"ip_address"`
	UserAgent         string        `db:"user_agent"`
	DeviceFingerprint *string       `db:"device_fingerprint"`
	Location          *LocationInfo `db:"location"`
	RiskScore         float64       `db:"risk_score"`
	IsSuspicious      bool          `db:"is_suspicious"`
	TriggeredLockout  bool          `db:"triggered_lockout"`
	AttemptedAt       time.Time     `db:"attempted_at"`
}

// LoginAttemptInput is what callers know about an attempt before it is stored.
type LoginAttemptInput struct {
	UserID            *string
	Identifier        string
	Success           bool
	FailureReason     *string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint *string
	Location          *LocationInfo
}

// LocationInfo is best-effort geolocation attached to attempts and sessions.
type LocationInfo struct {
	Country   string   `json:"country,omitempty"`
	Region    string   `json:"region,omitempty"`
	City      string   `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether distance-based checks can use this location.
func (l *LocationInfo) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// Label is a human readable "City, Country" form used in statistics.
func (l *LocationInfo) Label() string {
	if l == nil {
		return "Unknown"
	}
	switch {
	case l.City != "" && l.Country != "":
		return l.City + ", " + l.Country
	case l.Country != "":
		return l.Country
	default:
		return "Unknown"
	}
}

// Scan implements sql.Scanner for JSONB
func (l *LocationInfo) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported location type %T", value)
	}
	return json.Unmarshal(data, l)
}

// Value implements driver.Valuer for JSONB
func (l *LocationInfo) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// LoginStatistics aggregates attempts over a time range
type LoginStatistics struct {
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	TotalAttempts     int       `json:"total_attempts"`
	SuccessfulLogins  int       `json:"successful_logins"`
	FailedLogins      int       `json:"failed_logins"`
	SuspiciousLogins  int       `json:"suspicious_logins"`
	UniqueIPAddresses int       `json:"unique_ip_addresses"`
}
