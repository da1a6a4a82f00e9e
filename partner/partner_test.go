package partner

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	t.Run("Same point is zero", func(t *testing.T) {
		c := Coordinates{Lat: 52.3676, Lng: 4.9041}
		assert.InDelta(t, 0, Haversine(c, c), 1e-9)
	})

	t.Run("Amsterdam to Utrecht", func(t *testing.T) {
		amsterdam := Coordinates{Lat: 52.3676, Lng: 4.9041}
		utrecht := Coordinates{Lat: 52.0907, Lng: 5.1214}
		// ~34 km as the crow flies
		assert.InDelta(t, 34, Haversine(amsterdam, utrecht), 1.5)
	})
}

func TestOffset(t *testing.T) {
	origin := Coordinates{Lat: 52.3676, Lng: 4.9041}
	moved := Offset(origin, 1, 1)
	assert.InDelta(t, math.Sqrt2, Haversine(origin, moved), 0.02)
}

func TestDistanceKm(t *testing.T) {
	assert.Equal(t, 1.5, Partner{Distance: Km(1.5)}.DistanceKm())
	assert.Equal(t, UnknownDistanceKm, Partner{}.DistanceKm())
	assert.Equal(t, UnknownDistanceKm, Partner{Distance: Km(-1)}.DistanceKm())
	assert.Equal(t, UnknownDistanceKm, Partner{Distance: Km(math.NaN())}.DistanceKm())
	assert.False(t, Partner{}.HasDistance())
	assert.True(t, Partner{Distance: Km(0)}.HasDistance())
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"teaching", RoleTeaching, true},
		{" Native ", RoleTeaching, true},
		{"LEARNING", RoleLearning, true},
		{"target", RoleLearning, true},
		{"fluent", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestLanguageRoles(t *testing.T) {
	p := Partner{Languages: []Language{{Name: "Dutch", Role: RoleTeaching}, {Name: "Spanish", Role: RoleLearning}}}
	assert.True(t, p.Teaches("dutch"))
	assert.False(t, p.Learns("dutch"))
	assert.True(t, p.Learns("SPANISH"))
	assert.Equal(t, []string{"Dutch", "Spanish"}, p.LanguageNames())
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-4))
	assert.Equal(t, 100, ClampScore(140))
	assert.Equal(t, 87, ClampScore(86.6))
	assert.Equal(t, 0, ClampScore(math.NaN()))
}
