package http

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
)

const maxUserAgentLength = 512

// IPConfig holds the parsed trusted proxy ranges
type IPConfig struct {
	trusted []*net.IPNet
}

// NewIPConfig parses CIDR ranges of trusted proxies. Invalid entries are skipped.
func NewIPConfig(cidrs []string) *IPConfig {
	cfg := &IPConfig{}
	for _, cidr := range cidrs {
		if _, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr)); err == nil {
			cfg.trusted = append(cfg.trusted, ipNet)
		}
	}
	return cfg
}

// ExtractClientIP returns the client address. Forwarding headers are only
// honored when the direct peer is a trusted proxy; X-Forwarded-For is walked
// from the right and the first hop that is not itself a trusted proxy wins.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)
	if config == nil || !config.isTrusted(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				continue
			}
			if !config.isTrusted(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return remoteIP
}

// UserAgent returns the truncated User-Agent header.
func UserAgent(r *http.Request) string {
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLength {
		return ua[:maxUserAgentLength]
	}
	return ua
}

// Geolocation headers set by the edge (CloudFront viewer headers).
const (
	headerViewerCountry   = "CloudFront-Viewer-Country"
	headerViewerRegion    = "CloudFront-Viewer-Country-Region"
	headerViewerCity      = "CloudFront-Viewer-City"
	headerViewerLatitude  = "CloudFront-Viewer-Latitude"
	headerViewerLongitude = "CloudFront-Viewer-Longitude"
)

// ExtractLocation reads edge geolocation headers. Like forwarding headers
// they are only honored from a trusted proxy; nil means unknown.
func ExtractLocation(r *http.Request, config *IPConfig) *models.LocationInfo {
	if config == nil || !config.isTrusted(getRemoteAddr(r)) {
		return nil
	}

	loc := &models.LocationInfo{
		Country: strings.TrimSpace(r.Header.Get(headerViewerCountry)),
		Region:  strings.TrimSpace(r.Header.Get(headerViewerRegion)),
		City:    strings.TrimSpace(r.Header.Get(headerViewerCity)),
	}
	lat, latErr := strconv.ParseFloat(r.Header.Get(headerViewerLatitude), 64)
	lon, lonErr := strconv.ParseFloat(r.Header.Get(headerViewerLongitude), 64)
	if latErr == nil && lonErr == nil && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
		loc.Latitude = &lat
		loc.Longitude = &lon
	}

	if loc.Country == "" && loc.City == "" && !loc.HasCoordinates() {
		return nil
	}
	return loc
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (c *IPConfig) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range c.trusted {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}
