// README: Fix validation and normalization at the ingest boundary.
package tracking

import "math"

// Ingest validates a single incoming position fix against a trip's last
// accepted fix. It never mutates trip state; the accepted fix is handed to
// the tracker's update path by the caller.
type Ingest struct{}

// Accept validates in a fixed order: identifiers, coordinate ranges,
// monotonic timestamp, duplicate detection. A fix identical to the last one
// (same coordinates and timestamp) is accepted but flagged as a duplicate so
// it contributes a zero delta instead of a rejection; polling transports
// redeliver constantly.
func (Ingest) Accept(fix PositionFix, last *AcceptedFix) (AcceptedFix, error) {
	if fix.TripID == "" || fix.DriverID == "" {
		return AcceptedFix{}, ErrMissingIdentifier
	}
	if !inRange(fix) {
		return AcceptedFix{}, ErrOutOfRangeCoordinate
	}
	if last != nil {
		if fix.Timestamp.Before(last.Timestamp) {
			return AcceptedFix{}, ErrStaleTimestamp
		}
		if fix.Timestamp.Equal(last.Timestamp) &&
			fix.Position.Lat == last.Position.Lat &&
			fix.Position.Lng == last.Position.Lng {
			return AcceptedFix{PositionFix: fix, Duplicate: true}, nil
		}
	}
	return AcceptedFix{PositionFix: fix}, nil
}

func inRange(fix PositionFix) bool {
	lat, lng := fix.Position.Lat, fix.Position.Lng
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return false
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return false
	}
	if fix.Heading != nil && (*fix.Heading < 0 || *fix.Heading >= 360) {
		return false
	}
	if fix.SpeedKmh != nil && *fix.SpeedKmh < 0 {
		return false
	}
	return true
}
