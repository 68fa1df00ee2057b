package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for security events
const (
	SecurityEventLockoutTriggered  = "lockout_triggered"
	SecurityEventLockoutManual     = "lockout_manual"
	SecurityEventLockoutReleased   = "lockout_released"
	SecurityEventSessionTerminated = "session_terminated"
	SecurityEventSessionSuspicious = "session_suspicious"
	SecurityEventSettingsChanged   = "security_settings_changed"
	SecurityEventIPBlocked         = "ip_blocked"
	SecurityEventTokenRevoked      = "token_revoked"
	SecurityEventSigningKeyRotated = "signing_key_rotated"
)

// SecurityEvent is a persisted security-relevant event outside the MFA trail.
type SecurityEvent struct {
	ID        uuid.UUID     `db:"id"`
	EventType string        `db:"event_type"`
	ActorID   *string       `db:"actor_id"`
	UserID    *string       `db:"user_id"`
	Success   bool          `db:"success"`
	Reason    *string       `db:"reason"`
	IPAddress *string       `db:"ip_address"`
	UserAgent *string       `db:"user_agent"`
	Metadata  EventMetadata `db:"metadata"`
	CreatedAt time.Time     `db:"created_at"`
}

// EventMetadata holds additional context for security events
type EventMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (m *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(EventMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrInvalidRequest
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(bytes, &raw); err != nil {
		return err
	}
	*m = EventMetadata(raw)
	return nil
}

// Value implements driver.Valuer for JSONB
func (m EventMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(m))
}
