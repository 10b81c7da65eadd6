// README: Tracker owns the trip registry and orchestrates ingest → state → progress → guidance → fan-out.
package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ridepulse/internal/config"
	"ridepulse/internal/directions"
	"ridepulse/internal/modules/navigation"
	"ridepulse/internal/types"
)

// Sink receives consolidated snapshots for fan-out to live subscribers.
type Sink interface {
	Publish(tripID types.ID, snap ConsolidatedSnapshot)
	PublishFinal(tripID types.ID, final FinalSnapshot)
}

// Store persists live snapshots and trip archives. All calls are
// best-effort from the tracker's point of view: a storage failure is logged,
// never propagated into the fix path.
type Store interface {
	SaveLive(ctx context.Context, snap ConsolidatedSnapshot) error
	GetLive(ctx context.Context, tripID types.ID) (*ConsolidatedSnapshot, error)
	AppendFix(ctx context.Context, fix AcceptedFix) error
	ArchiveFinal(ctx context.Context, final FinalSnapshot) error
	ClearLive(ctx context.Context, tripID, driverID types.ID) error
}

// AnnouncementHandler consumes turn-by-turn announcements (text-to-speech,
// banner display). The tracker decides when and what; rendering is theirs.
type AnnouncementHandler func(tripID types.ID, ann navigation.Announcement)

// Tracker is the tracking subsystem instance: an explicit, constructed
// registry of active trips, passed by reference to the transport adapters.
// No package-level singletons.
type Tracker struct {
	trips registry

	ing      Ingest
	cfg      config.TrackingConfig
	navCfg   config.NavigationConfig
	store    Store
	sink     Sink
	provider directions.Provider
	log      *logrus.Logger

	announce AnnouncementHandler

	// now is a clock function; overridable in tests.
	now func() time.Time
}

func NewTracker(cfg config.TrackingConfig, navCfg config.NavigationConfig, store Store, sink Sink, provider directions.Provider, log *logrus.Logger) *Tracker {
	if cfg.JumpCeilingKm <= 0 {
		cfg.JumpCeilingKm = 5.0
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.DefaultSpeedKmh <= 0 {
		cfg.DefaultSpeedKmh = DefaultSpeedKmh
	}
	if log == nil {
		log = logrus.New()
	}
	return &Tracker{
		trips:    newRegistry(),
		cfg:      cfg,
		navCfg:   navCfg,
		store:    store,
		sink:     sink,
		provider: provider,
		log:      log,
		now:      time.Now,
	}
}

// SetAnnouncementHandler registers the announcement consumer. Call before
// fixes start flowing.
func (t *Tracker) SetAnnouncementHandler(fn AnnouncementHandler) {
	t.announce = fn
}

// StartTrip creates tracking state for a trip, keyed to the tripStarted
// lifecycle event. The planned route is fetched in the background; guidance
// stays stale until it arrives.
func (t *Tracker) StartTrip(ctx context.Context, cmd StartCommand) error {
	if cmd.TripID == "" || cmd.DriverID == "" {
		return ErrMissingIdentifier
	}
	if cmd.StartTime.IsZero() {
		cmd.StartTime = t.now()
	}

	guide := navigation.NewGuide(t.navCfg.AdvanceThresholdM, t.navCfg.ArrivalThresholdM)
	st := newTripState(cmd, guide, t.now())
	if !t.trips.add(cmd.TripID, st) {
		return ErrDuplicateTrip
	}

	t.log.WithFields(logrus.Fields{"trip_id": cmd.TripID, "driver_id": cmd.DriverID}).Info("trip tracking started")

	if t.provider != nil && cmd.Seed != nil && st.tryMarkRouteRequested() {
		go t.fetchRoute(st, *cmd.Seed)
	}
	return nil
}

// HandleFix runs one raw fix through the full pipeline and returns the
// consolidated snapshot it produced. Input errors leave the trip unchanged.
func (t *Tracker) HandleFix(ctx context.Context, fix PositionFix) (*ConsolidatedSnapshot, error) {
	st := t.trips.get(fix.TripID)
	if st == nil {
		t.log.WithFields(logrus.Fields{"trip_id": fix.TripID, "reason": "unknown_trip"}).Debug("fix rejected")
		return nil, ErrUnknownTrip
	}

	accepted, snap, err := st.process(fix, t.ing, t.cfg.JumpCeilingKm, t.now())
	if err != nil {
		if errors.Is(err, ErrTripNotActive) {
			return nil, err
		}
		t.log.WithFields(logrus.Fields{"trip_id": fix.TripID, "reason": err.Error()}).Debug("fix rejected")
		return nil, err
	}

	// The first fix seeds the route fetch when the trip started without a
	// pickup point.
	if t.provider != nil && st.tryMarkRouteRequested() {
		go t.fetchRoute(st, snap.Position)
	}

	// Provider-reported current instruction takes precedence over the
	// guide's proximity net.
	if route := st.plannedRoute(); route != nil {
		st.guide.AdvanceTo(directions.CurrentInstruction(route, snap.Position, t.navCfg.AdvanceThresholdM))
	}
	navSnap, anns := st.guide.Evaluate(snap.Position)

	dest, totalKm := st.plannedTotals()
	progress, perr := ComputeProgress(snap, dest, totalKm, t.cfg.DefaultSpeedKmh)
	if perr != nil {
		t.log.WithFields(logrus.Fields{"trip_id": fix.TripID}).WithError(perr).Error("progress computation failed")
	}

	cs := ConsolidatedSnapshot{
		Trip:          snap,
		Progress:      progress,
		Navigation:    &navSnap,
		Announcements: anns,
		GeneratedAt:   t.now(),
	}
	st.setConsolidated(&cs)

	if t.store != nil {
		_ = t.store.AppendFix(ctx, accepted)
		if serr := t.store.SaveLive(ctx, cs); serr != nil {
			t.log.WithFields(logrus.Fields{"trip_id": fix.TripID}).WithError(serr).Warn("live snapshot save failed")
		}
	}
	if t.sink != nil {
		t.sink.Publish(fix.TripID, cs)
	}
	if t.announce != nil {
		for _, a := range anns {
			t.announce(fix.TripID, a)
		}
	}
	return &cs, nil
}

// CompleteTrip evicts on the tripCompleted lifecycle event.
func (t *Tracker) CompleteTrip(ctx context.Context, tripID types.ID) (*FinalSnapshot, error) {
	return t.evict(ctx, tripID, EvictCompleted)
}

// CancelTrip evicts on the tripCancelled lifecycle event.
func (t *Tracker) CancelTrip(ctx context.Context, tripID types.ID) (*FinalSnapshot, error) {
	return t.evict(ctx, tripID, EvictCancelled)
}

// GetSnapshot serves late-joining subscribers: active trips answer from
// memory, recently evicted ones from the live cache. A nil snapshot with a
// nil error means the trip is unknown.
func (t *Tracker) GetSnapshot(ctx context.Context, tripID types.ID) (*ConsolidatedSnapshot, error) {
	if st := t.trips.get(tripID); st != nil {
		if cs := st.consolidated(); cs != nil {
			return cs, nil
		}
		// No fix yet: synthesize from the seed.
		snap := st.snapshot(t.now())
		dest, totalKm := st.plannedTotals()
		progress, err := ComputeProgress(snap, dest, totalKm, t.cfg.DefaultSpeedKmh)
		if err != nil {
			return nil, err
		}
		return &ConsolidatedSnapshot{Trip: snap, Progress: progress, GeneratedAt: t.now()}, nil
	}
	if t.store != nil {
		return t.store.GetLive(ctx, tripID)
	}
	return nil, nil
}

// RunIdleSweeper periodically evicts trips without fixes past the idle
// timeout. The final snapshot is distributed before removal; idle eviction
// never drops unflushed metrics silently.
func (t *Tracker) RunIdleSweeper(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SweepIdle(ctx)
		}
	}
}

// SweepIdle performs one idle scan. Exposed for the sweeper loop and tests.
func (t *Tracker) SweepIdle(ctx context.Context) {
	now := t.now()
	for _, id := range t.trips.ids() {
		st := t.trips.get(id)
		if st == nil || !st.idleSince(now, t.cfg.IdleTimeout) {
			continue
		}
		if _, err := t.evict(ctx, id, EvictIdle); err == nil {
			t.log.WithFields(logrus.Fields{"trip_id": id}).Info("idle trip evicted")
		}
	}
}

func (t *Tracker) evict(ctx context.Context, tripID types.ID, reason EvictReason) (*FinalSnapshot, error) {
	st := t.trips.remove(tripID)
	if st == nil {
		return nil, ErrTripNotActive
	}

	now := t.now()
	snap := st.markEvicted(now)

	dest, totalKm := st.plannedTotals()
	progress, _ := ComputeProgress(snap, dest, totalKm, t.cfg.DefaultSpeedKmh)
	navSnap, _ := st.guide.Evaluate(snap.Position)

	final := FinalSnapshot{
		ConsolidatedSnapshot: ConsolidatedSnapshot{
			Trip:        snap,
			Progress:    progress,
			Navigation:  &navSnap,
			GeneratedAt: now,
		},
		Reason:    reason,
		EvictedAt: now,
	}

	if t.store != nil {
		if err := t.store.ArchiveFinal(ctx, final); err != nil {
			t.log.WithFields(logrus.Fields{"trip_id": tripID}).WithError(err).Warn("final snapshot archive failed")
		}
		_ = t.store.ClearLive(ctx, tripID, st.driverID)
	}
	if t.sink != nil {
		t.sink.PublishFinal(tripID, final)
	}

	t.log.WithFields(logrus.Fields{"trip_id": tripID, "reason": reason}).Info("trip tracking evicted")
	return &final, nil
}

// fetchRoute asks the directions provider for the planned route. Failures
// degrade guidance to stale; they never touch the fix path.
func (t *Tracker) fetchRoute(st *tripState, origin types.Point) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dest, _ := st.plannedTotals()
	route, err := t.provider.Route(ctx, origin, dest)
	if err != nil {
		st.guide.MarkStale()
		t.log.WithFields(logrus.Fields{"trip_id": st.tripID}).WithError(err).Warn("route fetch failed; guidance stale")
		return
	}

	st.setRoute(route)
	maneuvers := make([]navigation.Maneuver, len(route.Instructions))
	for i, ins := range route.Instructions {
		maneuvers[i] = navigation.Maneuver{
			Instruction: ins.Instruction,
			Target:      ins.Target,
			DistanceM:   ins.DistanceM,
			Type:        ins.Type,
		}
	}
	st.guide.SetRoute(maneuvers, dest)
	t.log.WithFields(logrus.Fields{"trip_id": st.tripID, "maneuvers": len(maneuvers)}).Info("planned route installed")
}

// registry is the tripId → state table, the subsystem's only shared resource.
type registry struct {
	mu sync.RWMutex
	m  map[types.ID]*tripState
}

func newRegistry() registry {
	return registry{m: make(map[types.ID]*tripState)}
}

func (r *registry) add(id types.ID, st *tripState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.m[id]; exists {
		return false
	}
	r.m[id] = st
	return true
}

func (r *registry) get(id types.ID) *tripState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m[id]
}

func (r *registry) remove(id types.ID) *tripState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.m[id]
	delete(r.m, id)
	return st
}

func (r *registry) ids() []types.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ID, 0, len(r.m))
	for id := range r.m {
		out = append(out, id)
	}
	return out
}
