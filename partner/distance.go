package partner

import "math"

const earthRadiusKm = 6371

// Haversine returns the great-circle distance in km between two points.
func Haversine(a, b Coordinates) float64 {
	dLat := (b.Lat - a.Lat) * (math.Pi / 180)
	dLng := (b.Lng - a.Lng) * (math.Pi / 180)
	lat1 := a.Lat * (math.Pi / 180)
	lat2 := b.Lat * (math.Pi / 180)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(lat1)*math.Cos(lat2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Offset moves c by the given north/east displacement in km. Accurate enough
// for the few-km offsets used when placing map markers.
func Offset(c Coordinates, northKm, eastKm float64) Coordinates {
	const kmPerDegLat = 111.32
	lat := c.Lat + northKm/kmPerDegLat
	cos := math.Cos(c.Lat * math.Pi / 180)
	if cos < 1e-6 {
		cos = 1e-6
	}
	lng := c.Lng + eastKm/(kmPerDegLat*cos)
	return Coordinates{Lat: lat, Lng: lng}
}
