package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// Optional client-computed device fingerprint. Falls back to IP+UA hashing in
// the services when absent.
const headerDeviceFingerprint = "X-Device-Fingerprint"

const maxFingerprintLength = 128

// clientInfo describes the caller for risk scoring, sessions and audit rows.
func clientInfo(r *http.Request, ipConfig *pkghttp.IPConfig) models.ClientInfo {
	fp := strings.TrimSpace(r.Header.Get(headerDeviceFingerprint))
	if len(fp) > maxFingerprintLength {
		fp = fp[:maxFingerprintLength]
	}
	return models.ClientInfo{
		IPAddress:         pkghttp.ExtractClientIP(r, ipConfig),
		UserAgent:         pkghttp.UserAgent(r),
		DeviceFingerprint: fp,
		Location:          pkghttp.ExtractLocation(r, ipConfig),
	}
}

// pagination reads ?limit and ?offset, ignoring malformed values.
func pagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// timeRange reads ?from and ?to as RFC 3339, defaulting to the last
// defaultSpan ending now.
func timeRange(r *http.Request, now time.Time, defaultSpan time.Duration) (from, to time.Time, ok bool) {
	to = now
	from = now.Add(-defaultSpan)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, false
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, false
		}
		to = t
	}
	return from, to, true
}
