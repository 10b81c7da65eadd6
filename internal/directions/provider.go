// README: Directions provider contract; network-bound and best-effort.
package directions

import (
	"context"
	"errors"
	"time"

	"ridepulse/internal/geo"
	"ridepulse/internal/types"
)

// ErrUnavailable is returned when the provider cannot be reached or returns
// no usable route. Callers degrade to stale guidance; they never block the
// fix path on this.
var ErrUnavailable = errors.New("directions provider unavailable")

// Instruction is one turn-by-turn step of a planned route.
type Instruction struct {
	Instruction string
	Target      types.Point
	DistanceM   float64
	Type        string
}

// Route is the planned route between a trip's origin and destination.
type Route struct {
	Geometry        []types.Point
	Instructions    []Instruction
	TotalDistanceKm float64
	Duration        time.Duration
}

// Provider fetches planned routes from an external directions service.
type Provider interface {
	Route(ctx context.Context, origin, destination types.Point) (*Route, error)
}

// CurrentInstruction returns the index of the instruction currently
// applicable for the given position: the first step whose target has not yet
// been reached. Computed locally against the fetched route; no network.
func CurrentInstruction(route *Route, pos types.Point, reachedThresholdM float64) int {
	if route == nil || len(route.Instructions) == 0 {
		return 0
	}
	best := 0
	bestKm := -1.0
	for i, ins := range route.Instructions {
		d, err := geo.DistanceKm(pos, ins.Target)
		if err != nil {
			return best
		}
		if bestKm < 0 || d < bestKm {
			bestKm = d
			best = i
		}
	}
	// Standing on the nearest step's target means that step is done and the
	// next one is current.
	if bestKm*1000 <= reachedThresholdM && best < len(route.Instructions)-1 {
		return best + 1
	}
	return best
}
