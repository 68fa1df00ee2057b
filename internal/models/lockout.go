package models

import "time"

type LockoutReason string

const (
	LockoutReasonTooManyFailures    LockoutReason = "too_many_failures"
	LockoutReasonManual             LockoutReason = "manual"
	LockoutReasonSuspiciousActivity LockoutReason = "suspicious_activity"
)

func (r LockoutReason) Valid() bool {
	switch r {
	case LockoutReasonTooManyFailures, LockoutReasonManual, LockoutReasonSuspiciousActivity:
		return true
	}
	return false
}

// Release reasons
const (
	ReleaseReasonManual     = "manual_release"
	ReleaseReasonSuperseded = "superseded"
	ReleaseReasonExpired    = "expired"
)

// LockoutRecord is an active or historical lockout. ExpiresAt nil means permanent.
type LockoutRecord struct {
	ID                 string        `db:"id" json:"id"`
	UserID             string        `db:"user_id" json:"user_id"`
	Reason             LockoutReason `db:"reason" json:"reason"`
	Level              int           `db:"level" json:"level"`
	FailedAttemptCount int           `db:"failed_attempt_count" json:"failed_attempt_count"`
	TriggeringIP       *string       `db:"triggering_ip" json:"triggering_ip,omitempty"`
	Details            *string       `db:"details" json:"details,omitempty"`
	LockedBy           *string       `db:"locked_by" json:"locked_by,omitempty"`
	StartedAt          time.Time     `db:"started_at" json:"started_at"`
	ExpiresAt          *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	ReleasedAt         *time.Time    `db:"released_at" json:"released_at,omitempty"`
	ReleaseReason      *string       `db:"release_reason" json:"release_reason,omitempty"`
	ReleasedBy         *string       `db:"released_by" json:"released_by,omitempty"`
}

// IsEffective reports whether the lockout blocks logins at now.
func (r *LockoutRecord) IsEffective(now time.Time) bool {
	if r == nil || r.ReleasedAt != nil {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

func (r *LockoutRecord) IsPermanent() bool {
	return r.ExpiresAt == nil
}

// LockoutStatistics aggregates lockouts over a time range
type LockoutStatistics struct {
	From           time.Time             `json:"from"`
	To             time.Time             `json:"to"`
	TotalLockouts  int                   `json:"total_lockouts"`
	ActiveLockouts int                   `json:"active_lockouts"`
	ByReason       map[LockoutReason]int `json:"by_reason"`
	ManualReleases int                   `json:"manual_releases"`
	AffectedUsers  int                   `json:"affected_users"`
}
