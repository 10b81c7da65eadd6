// README: Per-trip mutable aggregate; owns the distance/ordering invariants.
package tracking

import (
	"sync"
	"time"

	"ridepulse/internal/directions"
	"ridepulse/internal/geo"
	"ridepulse/internal/modules/navigation"
	"ridepulse/internal/types"
)

// tripState is the only place a trip's tracking data is mutated. All access
// goes through its methods under mu, serializing concurrent fixes for the
// same trip; trips never share state beyond the tracker's registry.
type tripState struct {
	mu sync.Mutex

	tripID   types.ID
	driverID types.ID

	current  *AcceptedFix
	previous *AcceptedFix

	cumulativeKm float64
	startTime    time.Time
	lastFixAt    time.Time // wall clock of last accepted fix, drives idle eviction

	seed        *types.Point
	destination types.Point

	route          *directions.Route
	routeRequested bool
	totalPlannedKm float64

	guide *navigation.Guide

	lastConsolidated *ConsolidatedSnapshot

	evicted bool
}

func newTripState(cmd StartCommand, guide *navigation.Guide, now time.Time) *tripState {
	st := &tripState{
		tripID:      cmd.TripID,
		driverID:    cmd.DriverID,
		startTime:   cmd.StartTime,
		seed:        cmd.Seed,
		destination: cmd.Destination,
		guide:       guide,
		lastFixAt:   now,
	}
	if cmd.Seed != nil {
		// Straight-line fallback denominator until the planned route arrives.
		if d, err := geo.DistanceKm(*cmd.Seed, cmd.Destination); err == nil {
			st.totalPlannedKm = d
		}
	}
	return st
}

// process validates a raw fix against the last accepted one and, if it
// passes, accumulates the distance delta and shifts positions — all under a
// single lock so concurrent fixes for the same trip are applied one at a
// time. Deltas at or above the jump ceiling are GPS glitches: the position
// still moves so the UI tracks the latest report, but the delta is discarded
// to keep the cumulative total honest ("trust the latest position, not the
// implied velocity").
func (st *tripState) process(fix PositionFix, ing Ingest, jumpCeilingKm float64, now time.Time) (AcceptedFix, TripTrackSnapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.evicted {
		return AcceptedFix{}, TripTrackSnapshot{}, ErrTripNotActive
	}

	accepted, err := ing.Accept(fix, st.current)
	if err != nil {
		return AcceptedFix{}, TripTrackSnapshot{}, err
	}

	// The first fix measures from the pickup seed when one was given.
	var origin *types.Point
	switch {
	case st.current != nil:
		origin = &st.current.Position
	case st.seed != nil:
		origin = st.seed
	}
	if origin != nil && !accepted.Duplicate {
		delta, derr := geo.DistanceKm(*origin, accepted.Position)
		if derr != nil {
			return AcceptedFix{}, TripTrackSnapshot{}, derr
		}
		if delta < jumpCeilingKm {
			st.cumulativeKm += delta
		}
	}

	st.previous = st.current
	f := accepted
	st.current = &f
	st.lastFixAt = now

	return accepted, st.snapshotLocked(now), nil
}

func (st *tripState) snapshot(now time.Time) TripTrackSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotLocked(now)
}

func (st *tripState) snapshotLocked(now time.Time) TripTrackSnapshot {
	snap := TripTrackSnapshot{
		TripID:               st.tripID,
		DriverID:             st.driverID,
		CumulativeDistanceKm: st.cumulativeKm,
		TripStartTime:        st.startTime,
		ElapsedSeconds:       int64(now.Sub(st.startTime).Seconds()),
	}
	switch {
	case st.current != nil:
		snap.Position = st.current.Position
		snap.Heading = st.current.Heading
		snap.SpeedKmh = st.current.SpeedKmh
		snap.Timestamp = st.current.Timestamp
	case st.seed != nil:
		snap.Position = *st.seed
		snap.Timestamp = st.startTime
	}
	return snap
}

// setRoute installs the planned route once the directions provider answers.
func (st *tripState) setRoute(route *directions.Route) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.route = route
	if route != nil && route.TotalDistanceKm > 0 {
		st.totalPlannedKm = route.TotalDistanceKm
	}
}

func (st *tripState) plannedRoute() *directions.Route {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.route
}

// tryMarkRouteRequested reports whether this caller should fetch the route;
// only the first caller per trip does.
func (st *tripState) tryMarkRouteRequested() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.routeRequested {
		return false
	}
	st.routeRequested = true
	return true
}

func (st *tripState) plannedTotals() (types.Point, float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.destination, st.totalPlannedKm
}

func (st *tripState) setConsolidated(cs *ConsolidatedSnapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastConsolidated = cs
}

func (st *tripState) consolidated() *ConsolidatedSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastConsolidated
}

func (st *tripState) idleSince(now time.Time, timeout time.Duration) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return !st.evicted && now.Sub(st.lastFixAt) >= timeout
}

// markEvicted seals the state; updates after this fail with ErrTripNotActive.
func (st *tripState) markEvicted(now time.Time) TripTrackSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.evicted = true
	return st.snapshotLocked(now)
}
