package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

func TestDisplayPosition(t *testing.T) {
	viewer := partner.Coordinates{Lat: 52.3676, Lng: 4.9041}

	t.Run("Real coordinates are used as is", func(t *testing.T) {
		loc := partner.Coordinates{Lat: 52.1, Lng: 5.1}
		pos, synthetic := DisplayPosition(viewer, partner.Partner{ID: "1", Location: &loc})
		assert.False(t, synthetic)
		assert.Equal(t, loc, pos)
	})

	t.Run("Synthetic position is stable and close", func(t *testing.T) {
		a, synthetic := DisplayPosition(viewer, partner.Partner{ID: "abc"})
		b, _ := DisplayPosition(viewer, partner.Partner{ID: "abc"})
		c, _ := DisplayPosition(viewer, partner.Partner{ID: "abd"})
		assert.True(t, synthetic)
		assert.Equal(t, a, b)
		assert.NotEqual(t, a, c)
		assert.LessOrEqual(t, partner.Haversine(viewer, a), syntheticRadiusKm+0.05)
	})
}

func TestViewportProject(t *testing.T) {
	center := partner.Coordinates{Lat: 52.0, Lng: 5.0}
	v := ViewportAround(center, 10)

	x, y := v.Project(center)
	assert.InDelta(t, 0.5, x, 1e-9)
	assert.InDelta(t, 0.5, y, 1e-9)

	x, y = v.Project(partner.Offset(center, 10, -10))
	assert.InDelta(t, 0, x, 0.01)
	assert.InDelta(t, 0, y, 0.01)
}

func TestClusterMarkers(t *testing.T) {
	markers := []Marker{
		{Partner: partner.Partner{ID: "a"}, X: 0.11, Y: 0.11},
		{Partner: partner.Partner{ID: "b"}, X: 0.55, Y: 0.55},
		{Partner: partner.Partner{ID: "c"}, X: 0.19, Y: 0.15},
		{Partner: partner.Partner{ID: "d"}, X: 0.91, Y: 0.05},
	}

	clusters := ClusterMarkers(markers, 0.1)

	require.Len(t, clusters, 3)
	assert.Equal(t, 2, clusters[0].Count)
	assert.True(t, clusters[0].IsBadge())
	assert.InDelta(t, 0.15, clusters[0].X, 1e-9)
	assert.InDelta(t, 0.13, clusters[0].Y, 1e-9)
	assert.Equal(t, "b", clusters[1].Members[0].Partner.ID)
	assert.False(t, clusters[1].IsBadge())
	assert.Equal(t, 1, clusters[2].Count)

	t.Run("Recomputes from scratch", func(t *testing.T) {
		again := ClusterMarkers(markers[:1], 0.1)
		require.Len(t, again, 1)
		assert.Equal(t, 1, again[0].Count)
	})

	t.Run("Invalid cell falls back to default", func(t *testing.T) {
		assert.Len(t, ClusterMarkers(markers, 0), 3)
	})
}

func TestMarkersDropOutsideViewport(t *testing.T) {
	viewer := partner.Coordinates{Lat: 52.0, Lng: 5.0}
	far := partner.Coordinates{Lat: 53.0, Lng: 5.0}
	ps := []partner.Partner{
		{ID: "here", Location: &viewer},
		{ID: "far", Location: &far},
		{ID: "unknown"},
	}

	got := Markers(viewer, ViewportAround(viewer, 5), ps)

	require.Len(t, got, 2)
	assert.Equal(t, "here", got[0].Partner.ID)
	assert.Equal(t, "unknown", got[1].Partner.ID)
	assert.True(t, got[1].Synthetic)
}
