package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Device types
const (
	DeviceTypeDesktop = "desktop"
	DeviceTypeMobile  = "mobile"
	DeviceTypeTablet  = "tablet"
	DeviceTypeBot     = "bot"
	DeviceTypeUnknown = "unknown"
)

// DeviceInfo is derived from the user agent at session creation.
type DeviceInfo struct {
	Type           string `json:"type"`
	OS             string `json:"os,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
}

// Label is used as the key of the device breakdown in statistics.
func (d *DeviceInfo) Label() string {
	if d == nil || d.Browser == "" {
		return "Unknown"
	}
	if d.OS == "" {
		return d.Browser
	}
	return d.Browser + " on " + d.OS
}

// Scan implements sql.Scanner for JSONB
func (d *DeviceInfo) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("unsupported device info type %T", value)
	}
}

// Value implements driver.Valuer for JSONB
func (d *DeviceInfo) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}
