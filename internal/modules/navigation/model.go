// README: Turn-by-turn guidance types and announcement bands.
package navigation

import "ridepulse/internal/types"

// State is the guide lifecycle.
type State string

const (
	StateAwaitingRoute State = "awaiting_route"
	StateNavigating    State = "navigating"
	StateArrived       State = "arrived"
)

// Maneuver is a single turn-by-turn instruction segment of a route.
type Maneuver struct {
	Instruction string      `json:"instruction"`
	Target      types.Point `json:"target"`
	DistanceM   float64     `json:"distance_m"`
	Type        string      `json:"type"`
}

// Announcement is emitted at most once per (maneuver, band) pair. Consumers
// (text-to-speech, banner display) decide how to render it; the guide only
// decides when and what.
type Announcement struct {
	ManeuverInstruction string  `json:"maneuver_instruction"`
	DistanceText        string  `json:"distance_text"`
	BandM               float64 `json:"band_m"`
}

// Snapshot is the guide's point-in-time view handed to consumers.
type Snapshot struct {
	State               State   `json:"state"`
	ManeuverIndex       int     `json:"maneuver_index"`
	CurrentInstruction  string  `json:"current_instruction,omitempty"`
	DistanceToManeuverM float64 `json:"distance_to_maneuver_m"`
	GuidanceStale       bool    `json:"guidance_stale"`
}

// announcementBands are evaluated descending; the guide announces the deepest
// band the driver has crossed that has not been announced for the current
// maneuver, so a band skipped between two fixes is still voiced.
var announcementBands = []float64{500, 200, 100, 50}
