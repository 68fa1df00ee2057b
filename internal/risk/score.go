// Package risk scores login attempts from noisy signals. Everything here is
// pure: callers gather the signals, this package only weighs them.
package risk

import (
	"math"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// Signals describes one login attempt relative to the user's history.
type Signals struct {
	// UnknownUser is set when the identifier does not resolve to an account.
	UnknownUser bool
	// NewIP is set when the IP never appears in recent successful logins.
	NewIP bool
	// NewDevice is set when the browser family never appears in recent
	// successful logins.
	NewDevice bool
	// RecentFailures counts failures for the identifier in the velocity window.
	RecentFailures int
	// IPAttempts counts attempts from the IP against any account in the last hour.
	IPAttempts int
	// Previous and Current locations with the time between them, for the
	// impossible travel check. Either may be nil.
	Previous *models.LocationInfo
	Current  *models.LocationInfo
	Elapsed  time.Duration
}

// Weights calibrates each signal category. No category may be dropped; set a
// weight to zero only in tests.
type Weights struct {
	UnknownUser       float64
	NewIP             float64
	NewDevice         float64
	Velocity          float64
	VelocityThreshold int
	IPReputation      float64
	IPAttemptLimit    int
	ImpossibleTravel  float64
	MaxTravelKmh      float64
}

func DefaultWeights() Weights {
	return Weights{
		UnknownUser:       0.3,
		NewIP:             0.4,
		NewDevice:         0.2,
		Velocity:          0.3,
		VelocityThreshold: 3,
		IPReputation:      0.4,
		IPAttemptLimit:    10,
		ImpossibleTravel:  0.5,
		MaxTravelKmh:      900,
	}
}

// Score combines the signals into [0, 1].
func (w Weights) Score(s Signals) float64 {
	var score float64
	if s.UnknownUser {
		score += w.UnknownUser
	}
	if s.NewIP {
		score += w.NewIP
	}
	if s.NewDevice {
		score += w.NewDevice
	}
	if s.RecentFailures >= w.VelocityThreshold {
		score += w.Velocity
	}
	if s.IPAttempts > w.IPAttemptLimit {
		score += w.IPReputation
	}
	if ImpossibleTravel(s.Previous, s.Current, s.Elapsed, w.MaxTravelKmh) {
		score += w.ImpossibleTravel
	}
	return clamp(score)
}

// Score weighs signals with DefaultWeights.
func Score(s Signals) float64 {
	return DefaultWeights().Score(s)
}

// ImpossibleTravel reports whether moving between two located logins within
// elapsed would need a ground speed above maxKmh.
func ImpossibleTravel(prev, curr *models.LocationInfo, elapsed time.Duration, maxKmh float64) bool {
	if !prev.HasCoordinates() || !curr.HasCoordinates() {
		return false
	}
	km := DistanceKm(*prev.Latitude, *prev.Longitude, *curr.Latitude, *curr.Longitude)
	if km < 50 {
		return false
	}
	hours := elapsed.Hours()
	if hours <= 0 {
		return true
	}
	return km/hours > maxKmh
}

const earthRadiusKm = 6371.0

// DistanceKm is the haversine great-circle distance.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return math.Round(v*1000) / 1000
	}
}
