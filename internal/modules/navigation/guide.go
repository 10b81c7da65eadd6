// README: Guide advances maneuvers on proximity and gates distance-band announcements.
package navigation

import (
	"fmt"
	"sync"

	"ridepulse/internal/geo"
	"ridepulse/internal/types"
)

const (
	// DefaultAdvanceThresholdM marks a maneuver reached.
	DefaultAdvanceThresholdM = 30.0
	// DefaultArrivalThresholdM marks the destination reached.
	DefaultArrivalThresholdM = 30.0
)

// Guide is the per-trip turn-by-turn state machine. The maneuver index never
// regresses: routes do not revisit prior maneuvers. A guide with no route
// yet (or whose provider went unreachable) reports GuidanceStale instead of
// fabricating a maneuver.
type Guide struct {
	mu sync.Mutex

	advanceThresholdM float64
	arrivalThresholdM float64

	maneuvers   []Maneuver
	destination types.Point
	hasRoute    bool

	state             State
	idx               int
	lastAnnouncedBand float64 // 0 = none yet for the current maneuver
	stale             bool
}

// NewGuide returns a guide in AwaitingRoute. Thresholds ≤ 0 fall back to the
// defaults.
func NewGuide(advanceThresholdM, arrivalThresholdM float64) *Guide {
	if advanceThresholdM <= 0 {
		advanceThresholdM = DefaultAdvanceThresholdM
	}
	if arrivalThresholdM <= 0 {
		arrivalThresholdM = DefaultArrivalThresholdM
	}
	return &Guide{
		advanceThresholdM: advanceThresholdM,
		arrivalThresholdM: arrivalThresholdM,
		state:             StateAwaitingRoute,
		stale:             true,
	}
}

// SetRoute installs the maneuver list and destination, moving the guide to
// Navigating. Safe to call from the route-fetch goroutine while fixes are
// being evaluated.
func (g *Guide) SetRoute(maneuvers []Maneuver, destination types.Point) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateArrived {
		return
	}
	g.maneuvers = maneuvers
	g.destination = destination
	g.hasRoute = true
	g.stale = false
	if g.state == StateAwaitingRoute {
		g.state = StateNavigating
		g.idx = 0
		g.lastAnnouncedBand = 0
	}
}

// MarkStale flags the guidance as degraded after a provider failure. The last
// known maneuver is held; tracking continues without turn-by-turn updates.
func (g *Guide) MarkStale() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stale = true
}

// AdvanceTo applies a provider-reported current instruction index. Provider
// advance takes precedence over the proximity safety net, but the index is
// still monotonic within the trip.
func (g *Guide) AdvanceTo(idx int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateNavigating || idx <= g.idx || idx >= len(g.maneuvers) {
		return
	}
	g.idx = idx
	g.lastAnnouncedBand = 0
	g.stale = false
}

// Evaluate recomputes the guide against the latest position and returns the
// snapshot plus any announcements due at this fix.
func (g *Guide) Evaluate(pos types.Point) (Snapshot, []Announcement) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasRoute || g.state == StateAwaitingRoute {
		return Snapshot{State: StateAwaitingRoute, GuidanceStale: true}, nil
	}
	if g.state == StateArrived {
		return g.snapshotLocked(0), nil
	}

	if len(g.maneuvers) == 0 {
		if destKm, err := geo.DistanceKm(pos, g.destination); err == nil && destKm*1000 <= g.arrivalThresholdM {
			g.state = StateArrived
		}
		return g.snapshotLocked(0), nil
	}

	// Proximity safety net: step past every maneuver already reached. A
	// single fix can clear several closely-spaced maneuvers.
	for g.idx < len(g.maneuvers) {
		distKm, err := geo.DistanceKm(pos, g.maneuvers[g.idx].Target)
		if err != nil {
			return g.snapshotLocked(0), nil
		}
		if distKm*1000 > g.advanceThresholdM {
			break
		}
		g.idx++
		g.lastAnnouncedBand = 0
	}

	if g.idx >= len(g.maneuvers)-1 {
		if destKm, err := geo.DistanceKm(pos, g.destination); err == nil && destKm*1000 <= g.arrivalThresholdM {
			g.state = StateArrived
			return g.snapshotLocked(destKm * 1000), nil
		}
	}
	if g.idx >= len(g.maneuvers) {
		g.idx = len(g.maneuvers) - 1
	}

	remKm, err := geo.DistanceKm(pos, g.maneuvers[g.idx].Target)
	if err != nil {
		return g.snapshotLocked(0), nil
	}
	remM := remKm * 1000

	var anns []Announcement
	if band, ok := g.dueBandLocked(remM); ok {
		g.lastAnnouncedBand = band
		anns = append(anns, Announcement{
			ManeuverInstruction: g.maneuvers[g.idx].Instruction,
			DistanceText:        distanceText(remM),
			BandM:               band,
		})
	}
	return g.snapshotLocked(remM), anns
}

// dueBandLocked finds the deepest crossed band not yet announced for the
// current maneuver. Crossing several bands between two fixes announces only
// the deepest one; a noisy distance bouncing back above an announced band
// never re-announces it.
func (g *Guide) dueBandLocked(remM float64) (float64, bool) {
	deepest := 0.0
	for _, b := range announcementBands {
		if remM <= b {
			deepest = b
		}
	}
	if deepest == 0 {
		return 0, false
	}
	if g.lastAnnouncedBand != 0 && deepest >= g.lastAnnouncedBand {
		return 0, false
	}
	return deepest, true
}

func (g *Guide) snapshotLocked(distToManeuverM float64) Snapshot {
	s := Snapshot{
		State:               g.state,
		ManeuverIndex:       g.idx,
		DistanceToManeuverM: distToManeuverM,
		GuidanceStale:       g.stale,
	}
	if g.state == StateNavigating && g.idx < len(g.maneuvers) {
		s.CurrentInstruction = g.maneuvers[g.idx].Instruction
	}
	return s
}

func distanceText(remM float64) string {
	if remM >= 1000 {
		return fmt.Sprintf("%.1f km", remM/1000)
	}
	return fmt.Sprintf("%.0f m", remM)
}
