package risk

import (
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
)

func loc(lat, lon float64) *models.LocationInfo {
	return &models.LocationInfo{Latitude: &lat, Longitude: &lon}
}

func TestScore_NoSignals(t *testing.T) {
	assert.Equal(t, 0.0, Score(Signals{}))
}

func TestScore_EachCategoryContributes(t *testing.T) {
	tests := []struct {
		name    string
		signals Signals
		want    float64
	}{
		{"unknown user", Signals{UnknownUser: true}, 0.3},
		{"new ip", Signals{NewIP: true}, 0.4},
		{"new device", Signals{NewDevice: true}, 0.2},
		{"velocity at threshold", Signals{RecentFailures: 3}, 0.3},
		{"velocity below threshold", Signals{RecentFailures: 2}, 0},
		{"ip reputation", Signals{IPAttempts: 11}, 0.4},
		{"ip reputation at limit", Signals{IPAttempts: 10}, 0},
		{
			"impossible travel",
			Signals{Previous: loc(40.71, -74.00), Current: loc(51.50, -0.12), Elapsed: time.Hour},
			0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.signals), 0.0001)
		})
	}
}

func TestScore_ClampedToOne(t *testing.T) {
	s := Signals{
		UnknownUser:    true,
		NewIP:          true,
		NewDevice:      true,
		RecentFailures: 10,
		IPAttempts:     50,
	}
	assert.Equal(t, 1.0, Score(s))
}

func TestScore_CustomWeights(t *testing.T) {
	w := DefaultWeights()
	w.NewIP = 0.1
	assert.InDelta(t, 0.1, w.Score(Signals{NewIP: true}), 0.0001)
}

func TestImpossibleTravel(t *testing.T) {
	newYork := loc(40.71, -74.00)
	london := loc(51.50, -0.12)
	boston := loc(42.36, -71.06)

	assert.True(t, ImpossibleTravel(newYork, london, 2*time.Hour, 900), "5,500 km in 2h")
	assert.False(t, ImpossibleTravel(newYork, london, 10*time.Hour, 900), "plausible flight")
	assert.False(t, ImpossibleTravel(newYork, boston, time.Hour, 900), "short hop")
	assert.False(t, ImpossibleTravel(nil, london, time.Minute, 900), "missing previous")
	assert.False(t, ImpossibleTravel(newYork, &models.LocationInfo{Country: "GB"}, time.Minute, 900), "no coordinates")
	assert.True(t, ImpossibleTravel(newYork, london, 0, 900), "zero elapsed")
	assert.False(t, ImpossibleTravel(newYork, loc(40.72, -74.01), 0, 900), "same city")
}

func TestDistanceKm(t *testing.T) {
	// New York to London is roughly 5,570 km.
	d := DistanceKm(40.71, -74.00, 51.50, -0.12)
	assert.InDelta(t, 5570, d, 50)
	assert.InDelta(t, 0, DistanceKm(10, 10, 10, 10), 0.0001)
}
