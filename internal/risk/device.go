package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/mssola/useragent"
)

// ParseDevice derives device type, OS, and browser from a user agent.
func ParseDevice(userAgent string) *models.DeviceInfo {
	if strings.TrimSpace(userAgent) == "" {
		return &models.DeviceInfo{Type: models.DeviceTypeUnknown}
	}

	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	info := &models.DeviceInfo{
		OS:             ua.OS(),
		Browser:        browser,
		BrowserVersion: version,
	}

	lower := strings.ToLower(userAgent)
	switch {
	case ua.Bot():
		info.Type = models.DeviceTypeBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		info.Type = models.DeviceTypeTablet
	case ua.Mobile():
		info.Type = models.DeviceTypeMobile
	default:
		info.Type = models.DeviceTypeDesktop
	}
	return info
}

// BrowserFamily reduces a user agent to the coarse family compared when
// deciding whether a device is new.
func BrowserFamily(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ""
	}
	name, _ := useragent.New(userAgent).Browser()
	return strings.ToLower(name)
}

// Fingerprint hashes IP and user agent into a stable 32 hex char identifier.
func Fingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + ":" + userAgent))
	return hex.EncodeToString(sum[:])[:32]
}
