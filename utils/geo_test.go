package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		delta                  float64
	}{
		{"same point", 40.7128, -74.0060, 40.7128, -74.0060, 0, 1e-9},
		{"one degree of latitude", 0, 0, 1, 0, 111194.93, 1},
		{"one degree of longitude at equator", 0, 0, 0, 1, 111194.93, 1},
		{"new york to london", 40.7128, -74.0060, 51.5074, -0.1278, 5570222, 500},
		{"antipodes", 0, 0, 0, 180, math.Pi * EarthRadiusMeters, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.want, got, tt.delta)
		})
	}
}

func TestHaversineMetersIsSymmetric(t *testing.T) {
	a := HaversineMeters(52.52, 13.405, 48.8566, 2.3522)
	b := HaversineMeters(48.8566, 2.3522, 52.52, 13.405)
	assert.InDelta(t, a, b, 1e-6)
}

func TestIsWithinRadius(t *testing.T) {
	// ~111 m north of the center
	lat := 0.001
	d := HaversineMeters(lat, 0, 0, 0)

	assert.True(t, IsWithinRadius(lat, 0, 0, 0, 200))
	assert.False(t, IsWithinRadius(lat, 0, 0, 0, 100))
	assert.True(t, IsWithinRadius(lat, 0, 0, 0, d), "boundary is inclusive")
	assert.True(t, IsWithinRadius(0, 0, 0, 0, 0))
}

func TestValidCoordinates(t *testing.T) {
	assert.True(t, ValidCoordinates(90, 180))
	assert.True(t, ValidCoordinates(-90, -180))
	assert.False(t, ValidCoordinates(90.0001, 0))
	assert.False(t, ValidCoordinates(0, -180.5))
	assert.False(t, ValidCoordinates(math.NaN(), 0))
	assert.False(t, ValidCoordinates(0, math.Inf(1)))
}
