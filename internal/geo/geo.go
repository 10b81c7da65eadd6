// README: Pure geographic computation helpers (great-circle math, no state).
package geo

import (
	"errors"
	"math"

	"ridepulse/internal/types"
)

const earthRadiusKm = 6371.0

// ErrInvalidCoordinate is returned when an input coordinate is not a finite number.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// DistanceKm returns the great-circle (Haversine) distance in kilometres
// between two points specified in decimal degrees. Symmetric within
// floating-point tolerance.
func DistanceKm(a, b types.Point) (float64, error) {
	if !finite(a) || !finite(b) {
		return 0, ErrInvalidCoordinate
	}
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng), nil
}

// BearingDegrees returns the initial bearing from a to b in degrees [0,360).
func BearingDegrees(a, b types.Point) (float64, error) {
	if !finite(a) || !finite(b) {
		return 0, ErrInvalidCoordinate
	}
	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(rLat2)
	x := math.Cos(rLat1)*math.Sin(rLat2) - math.Sin(rLat1)*math.Cos(rLat2)*math.Cos(dLng)
	brng := radiansToDegrees(math.Atan2(y, x))
	// Atan2 yields (-180,180]; normalise into [0,360).
	return math.Mod(brng+360, 360), nil
}

// NearestPointOnPolyline returns the index of the polyline vertex closest to p
// and the distance to it in kilometres. Nearest-vertex approximation: the
// polylines we receive from the directions provider are dense enough that full
// segment projection is not worth the cost.
func NearestPointOnPolyline(p types.Point, line []types.Point) (int, float64, error) {
	if !finite(p) {
		return 0, 0, ErrInvalidCoordinate
	}
	if len(line) == 0 {
		return -1, 0, nil
	}
	bestIdx := 0
	bestKm := math.MaxFloat64
	for i, v := range line {
		if !finite(v) {
			return 0, 0, ErrInvalidCoordinate
		}
		d := haversineKm(p.Lat, p.Lng, v.Lat, v.Lng)
		if d < bestKm {
			bestKm = d
			bestIdx = i
		}
	}
	return bestIdx, bestKm, nil
}

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

func finite(p types.Point) bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0)
}
