// README: Trip tracking aggregates, snapshots, and sentinel errors.
package tracking

import (
	"errors"
	"time"

	"ridepulse/internal/modules/navigation"
	"ridepulse/internal/types"
)

var (
	// Input errors: the fix is dropped, trip state is left unchanged.
	ErrOutOfRangeCoordinate = errors.New("coordinate out of range")
	ErrStaleTimestamp       = errors.New("stale timestamp")
	ErrUnknownTrip          = errors.New("unknown trip")
	ErrMissingIdentifier    = errors.New("missing trip or driver id")

	// Consistency errors: caller bugs, surfaced explicitly.
	ErrDuplicateTrip = errors.New("trip already active")
	ErrTripNotActive = errors.New("trip not active")
)

// PositionFix is one raw GPS sample reported by a driver client.
// Heading and SpeedKmh are optional; nil means not reported.
type PositionFix struct {
	TripID    types.ID    `json:"trip_id"`
	DriverID  types.ID    `json:"driver_id"`
	Position  types.Point `json:"position"`
	Heading   *float64    `json:"heading,omitempty"`
	SpeedKmh  *float64    `json:"speed_kmh,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// AcceptedFix is a fix that passed validation. Duplicate marks a repeat of
// the previous fix (same coordinates and timestamp), common with polling
// transports; it contributes a zero distance delta instead of being rejected.
type AcceptedFix struct {
	PositionFix
	Duplicate bool `json:"duplicate,omitempty"`
}

// TripTrackSnapshot is the immutable view of a trip's tracking state.
type TripTrackSnapshot struct {
	TripID               types.ID    `json:"trip_id"`
	DriverID             types.ID    `json:"driver_id"`
	Position             types.Point `json:"position"`
	Heading              *float64    `json:"heading,omitempty"`
	SpeedKmh             *float64    `json:"speed_kmh,omitempty"`
	Timestamp            time.Time   `json:"timestamp"`
	CumulativeDistanceKm float64     `json:"cumulative_distance_km"`
	TripStartTime        time.Time   `json:"trip_start_time"`
	ElapsedSeconds       int64       `json:"elapsed_seconds"`
}

// RouteProgressSnapshot is derived per fix, never stored.
type RouteProgressSnapshot struct {
	DistanceRemainingKm float64 `json:"distance_remaining_km"`
	ETAMinutes          int     `json:"eta_minutes"`
	PercentComplete     float64 `json:"percent_complete"`
}

// ConsolidatedSnapshot is what subscribers receive on every accepted fix.
type ConsolidatedSnapshot struct {
	Trip          TripTrackSnapshot         `json:"trip"`
	Progress      RouteProgressSnapshot     `json:"progress"`
	Navigation    *navigation.Snapshot      `json:"navigation,omitempty"`
	Announcements []navigation.Announcement `json:"announcements,omitempty"`
	GeneratedAt   time.Time                 `json:"generated_at"`
}

// EvictReason records why a trip left the active set.
type EvictReason string

const (
	EvictCompleted EvictReason = "completed"
	EvictCancelled EvictReason = "cancelled"
	EvictIdle      EvictReason = "idle"
)

// FinalSnapshot is distributed once, just before a trip's state is removed.
type FinalSnapshot struct {
	ConsolidatedSnapshot
	Reason    EvictReason `json:"reason"`
	EvictedAt time.Time   `json:"evicted_at"`
}

// StartCommand creates tracking state for a trip. Seed is the last known
// pickup point when tracking starts before the first fix arrives.
type StartCommand struct {
	TripID      types.ID
	DriverID    types.ID
	StartTime   time.Time
	Seed        *types.Point
	Destination types.Point
}
