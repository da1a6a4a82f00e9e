package discovery

import (
	"hash/fnv"
	"math"

	"gitea.kood.tech/petrkubec/taalmeet/nearby/partner"
)

// syntheticRadiusKm bounds how far from the viewer a partner without
// coordinates is drawn.
const syntheticRadiusKm = 2.0

// DefaultClusterCell is the grid cell size as a fraction of the viewport.
const DefaultClusterCell = 0.1

// DisplayPosition returns where to draw p on the map. Real coordinates are
// used when present. Otherwise a stable pseudo-random point near the viewer
// is derived from the id; synthetic is true in that case and the point must
// never feed a distance decision.
func DisplayPosition(viewer partner.Coordinates, p partner.Partner) (pos partner.Coordinates, synthetic bool) {
	if p.Location != nil && p.Location.Valid() {
		return *p.Location, false
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(p.ID))
	sum := h.Sum64()
	angle := float64(sum&0xffff) / 0xffff * 2 * math.Pi
	dist := (0.2 + 0.8*float64((sum>>16)&0xffff)/0xffff) * syntheticRadiusKm
	return partner.Offset(viewer, dist*math.Cos(angle), dist*math.Sin(angle)), true
}

// Viewport is the visible map window.
type Viewport struct {
	Center  partner.Coordinates `json:"center"`
	SpanLat float64             `json:"span_lat"`
	SpanLng float64             `json:"span_lng"`
}

// ViewportAround returns a square viewport of 2*radiusKm centred on c.
func ViewportAround(c partner.Coordinates, radiusKm float64) Viewport {
	ne := partner.Offset(c, radiusKm, radiusKm)
	return Viewport{
		Center:  c,
		SpanLat: 2 * (ne.Lat - c.Lat),
		SpanLng: 2 * (ne.Lng - c.Lng),
	}
}

// Project maps c to viewport-normalised x/y; (0,0) is the top-left corner.
// Points outside the window land outside [0,1].
func (v Viewport) Project(c partner.Coordinates) (x, y float64) {
	if v.SpanLat <= 0 || v.SpanLng <= 0 {
		return 0.5, 0.5
	}
	x = (c.Lng - (v.Center.Lng - v.SpanLng/2)) / v.SpanLng
	y = ((v.Center.Lat + v.SpanLat/2) - c.Lat) / v.SpanLat
	return x, y
}

// Marker is a partner placed on the map.
type Marker struct {
	Partner   partner.Partner     `json:"partner"`
	Position  partner.Coordinates `json:"position"`
	X         float64             `json:"x"`
	Y         float64             `json:"y"`
	Synthetic bool                `json:"synthetic"`
}

// Markers places every partner in the viewport. Partners projecting outside
// the window are left out.
func Markers(viewer partner.Coordinates, v Viewport, ps []partner.Partner) []Marker {
	out := make([]Marker, 0, len(ps))
	for _, p := range ps {
		pos, synthetic := DisplayPosition(viewer, p)
		x, y := v.Project(pos)
		if x < 0 || x > 1 || y < 0 || y > 1 {
			continue
		}
		out = append(out, Marker{Partner: p, Position: pos, X: x, Y: y, Synthetic: synthetic})
	}
	return out
}

// Cluster is one grid bucket. A bucket with a single member renders as a
// plain marker, anything larger as a count badge.
type Cluster struct {
	X       float64  `json:"x"`
	Y       float64  `json:"y"`
	Count   int      `json:"count"`
	Members []Marker `json:"members"`
}

// IsBadge reports whether the bucket renders as a count badge.
func (c Cluster) IsBadge() bool {
	return c.Count > 1
}

type cellKey struct{ col, row int }

// ClusterMarkers buckets markers into a grid of cell-sized squares. Buckets
// come back in order of first appearance and carry the centroid of their
// members. There is no incremental state; every call recomputes.
func ClusterMarkers(markers []Marker, cell float64) []Cluster {
	if cell <= 0 || cell > 1 {
		cell = DefaultClusterCell
	}
	index := make(map[cellKey]int)
	var clusters []Cluster
	for _, m := range markers {
		k := cellKey{col: int(math.Floor(m.X / cell)), row: int(math.Floor(m.Y / cell))}
		i, ok := index[k]
		if !ok {
			i = len(clusters)
			index[k] = i
			clusters = append(clusters, Cluster{})
		}
		c := &clusters[i]
		c.Members = append(c.Members, m)
		c.Count++
		c.X += (m.X - c.X) / float64(c.Count)
		c.Y += (m.Y - c.Y) / float64(c.Count)
	}
	return clusters
}
