package models

// ClientInfo describes where a request came from. Handlers build it from the
// HTTP request and pass it down explicitly.
type ClientInfo struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Location          *LocationInfo
}
