// README: Route progress derivation (remaining distance, ETA, percent complete).
package tracking

import (
	"math"

	"ridepulse/internal/geo"
	"ridepulse/internal/types"
)

// DefaultSpeedKmh backs the ETA when the reported speed is zero or absent.
const DefaultSpeedKmh = 40.0

// ComputeProgress derives the progress snapshot from the latest tracking
// snapshot. Remaining distance is straight-line to the destination, not
// remaining-route distance.
func ComputeProgress(snap TripTrackSnapshot, destination types.Point, totalPlannedKm, defaultSpeedKmh float64) (RouteProgressSnapshot, error) {
	remainingKm, err := geo.DistanceKm(snap.Position, destination)
	if err != nil {
		return RouteProgressSnapshot{}, err
	}

	effectiveSpeed := defaultSpeedKmh
	if effectiveSpeed <= 0 {
		effectiveSpeed = DefaultSpeedKmh
	}
	if snap.SpeedKmh != nil && *snap.SpeedKmh > 0 {
		effectiveSpeed = *snap.SpeedKmh
	}

	percent := 0.0
	if totalPlannedKm > 0 {
		percent = math.Min(math.Max(snap.CumulativeDistanceKm/totalPlannedKm, 0), 1)
	}

	return RouteProgressSnapshot{
		DistanceRemainingKm: remainingKm,
		ETAMinutes:          int(math.Round(remainingKm / effectiveSpeed * 60)),
		PercentComplete:     percent,
	}, nil
}
