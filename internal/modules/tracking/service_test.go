package tracking

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ridepulse/internal/config"
	"ridepulse/internal/types"
)

// fakeClock drives the tracker's notion of time in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureSink records everything published, synchronously.
type captureSink struct {
	mu     sync.Mutex
	snaps  []ConsolidatedSnapshot
	finals []FinalSnapshot
}

func (s *captureSink) Publish(_ types.ID, snap ConsolidatedSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *captureSink) PublishFinal(_ types.ID, final FinalSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, final)
}

func (s *captureSink) finalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finals)
}

func newTestTracker(clock *fakeClock, sink Sink) *Tracker {
	cfg := config.TrackingConfig{
		JumpCeilingKm:   5.0,
		IdleTimeout:     30 * time.Minute,
		SweepInterval:   5 * time.Minute,
		DefaultSpeedKmh: 40.0,
	}
	tr := NewTracker(cfg, config.NavigationConfig{}, nil, sink, nil, nil)
	tr.log.SetOutput(io.Discard)
	if clock != nil {
		tr.now = clock.now
	}
	return tr
}

var testStart = time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

func startTestTrip(t *testing.T, tr *Tracker) {
	t.Helper()
	seed := types.Point{Lat: 19.0760, Lng: 72.8777}
	err := tr.StartTrip(context.Background(), StartCommand{
		TripID:      "trip-1",
		DriverID:    "driver-1",
		StartTime:   testStart,
		Seed:        &seed,
		Destination: types.Point{Lat: 19.1260, Lng: 72.8777},
	})
	if err != nil {
		t.Fatalf("StartTrip: %v", err)
	}
}

func fixAt(lat, lng float64, ts time.Time) PositionFix {
	return PositionFix{
		TripID:    "trip-1",
		DriverID:  "driver-1",
		Position:  types.Point{Lat: lat, Lng: lng},
		Timestamp: ts,
	}
}

func TestTracker_DuplicateTripRejected(t *testing.T) {
	tr := newTestTracker(nil, nil)
	startTestTrip(t, tr)

	seed := types.Point{Lat: 19.0760, Lng: 72.8777}
	err := tr.StartTrip(context.Background(), StartCommand{
		TripID: "trip-1", DriverID: "driver-1", StartTime: testStart,
		Seed: &seed, Destination: types.Point{Lat: 19.1260, Lng: 72.8777},
	})
	if !errors.Is(err, ErrDuplicateTrip) {
		t.Errorf("second StartTrip error = %v, want ErrDuplicateTrip", err)
	}
}

func TestTracker_UnknownTripRejected(t *testing.T) {
	tr := newTestTracker(nil, nil)
	_, err := tr.HandleFix(context.Background(), fixAt(19.0760, 72.8777, testStart))
	if !errors.Is(err, ErrUnknownTrip) {
		t.Errorf("HandleFix error = %v, want ErrUnknownTrip", err)
	}
}

func TestTracker_MonotonicCumulativeDistance(t *testing.T) {
	tr := newTestTracker(nil, nil)
	startTestTrip(t, tr)
	ctx := context.Background()

	prev := -1.0
	for i := 0; i < 5; i++ {
		// ~1 km steps north, well under the jump ceiling.
		snap, err := tr.HandleFix(ctx, fixAt(19.0760+float64(i)*0.009, 72.8777, testStart.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("fix %d rejected: %v", i, err)
		}
		if snap.Trip.CumulativeDistanceKm < prev {
			t.Errorf("cumulative distance decreased: %f < %f", snap.Trip.CumulativeDistanceKm, prev)
		}
		prev = snap.Trip.CumulativeDistanceKm
	}
	if prev < 3.9 || prev > 4.1 {
		t.Errorf("cumulative distance after 4 x ~1km steps = %f, want ~4", prev)
	}
}

func TestTracker_StaleFixLeavesStateUnchanged(t *testing.T) {
	tr := newTestTracker(nil, nil)
	startTestTrip(t, tr)
	ctx := context.Background()

	first, err := tr.HandleFix(ctx, fixAt(19.0760, 72.8777, testStart.Add(time.Minute)))
	if err != nil {
		t.Fatalf("first fix rejected: %v", err)
	}

	_, err = tr.HandleFix(ctx, fixAt(19.0850, 72.8777, testStart.Add(30*time.Second)))
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("out-of-order fix error = %v, want ErrStaleTimestamp", err)
	}

	snap, err := tr.GetSnapshot(ctx, "trip-1")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.Trip.Position != first.Trip.Position {
		t.Error("stale fix moved the position")
	}
	if snap.Trip.CumulativeDistanceKm != first.Trip.CumulativeDistanceKm {
		t.Error("stale fix changed the cumulative distance")
	}
}

func TestTracker_GPSJumpIsolated(t *testing.T) {
	tr := newTestTracker(nil, nil)
	startTestTrip(t, tr)
	ctx := context.Background()

	before, err := tr.HandleFix(ctx, fixAt(19.0760, 72.8777, testStart.Add(time.Minute)))
	if err != nil {
		t.Fatalf("fix rejected: %v", err)
	}

	// ~50 km jump in 5 seconds: a glitch. Position follows, distance does not.
	jumpLat := 19.0760 + 0.45
	after, err := tr.HandleFix(ctx, fixAt(jumpLat, 72.8777, testStart.Add(time.Minute+5*time.Second)))
	if err != nil {
		t.Fatalf("jump fix rejected: %v", err)
	}
	if after.Trip.CumulativeDistanceKm != before.Trip.CumulativeDistanceKm {
		t.Errorf("glitch delta leaked into cumulative distance: %f -> %f",
			before.Trip.CumulativeDistanceKm, after.Trip.CumulativeDistanceKm)
	}
	if after.Trip.Position.Lat != jumpLat {
		t.Error("position did not follow the latest report")
	}
}

func TestTracker_DuplicateFixZeroDelta(t *testing.T) {
	tr := newTestTracker(nil, nil)
	startTestTrip(t, tr)
	ctx := context.Background()

	fix := fixAt(19.0850, 72.8777, testStart.Add(time.Minute))
	first, err := tr.HandleFix(ctx, fix)
	if err != nil {
		t.Fatalf("fix rejected: %v", err)
	}
	second, err := tr.HandleFix(ctx, fix)
	if err != nil {
		t.Fatalf("duplicate fix rejected: %v", err)
	}
	if second.Trip.CumulativeDistanceKm != first.Trip.CumulativeDistanceKm {
		t.Error("duplicate fix changed the cumulative distance")
	}
}

func TestTracker_StraightRunScenario(t *testing.T) {
	tr := newTestTracker(nil, nil)
	startTestTrip(t, tr) // destination ~5.56 km due north of the seed
	ctx := context.Background()

	prevRemaining := 1e9
	prevPercent := -1.0
	var last *ConsolidatedSnapshot
	for i := 1; i <= 6; i++ {
		// Advance ~1 km north per fix.
		lat := 19.0760 + float64(i)*0.009
		snap, err := tr.HandleFix(ctx, fixAt(lat, 72.8777, testStart.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("fix %d rejected: %v", i, err)
		}
		if snap.Progress.DistanceRemainingKm > prevRemaining {
			t.Errorf("fix %d: remaining distance rose from %f to %f", i, prevRemaining, snap.Progress.DistanceRemainingKm)
		}
		if snap.Progress.PercentComplete < prevPercent {
			t.Errorf("fix %d: percent complete fell from %f to %f", i, prevPercent, snap.Progress.PercentComplete)
		}
		prevRemaining = snap.Progress.DistanceRemainingKm
		prevPercent = snap.Progress.PercentComplete
		last = snap
	}

	if last.Progress.PercentComplete != 1.0 {
		t.Errorf("final percent complete = %f, want clamped 1.0", last.Progress.PercentComplete)
	}
	if last.Progress.DistanceRemainingKm > 0.6 {
		t.Errorf("final remaining distance = %f km, want near 0", last.Progress.DistanceRemainingKm)
	}
}

func TestTracker_IdleEviction(t *testing.T) {
	clock := newFakeClock(testStart)
	sink := &captureSink{}
	tr := newTestTracker(clock, sink)
	startTestTrip(t, tr)
	ctx := context.Background()

	if _, err := tr.HandleFix(ctx, fixAt(19.0850, 72.8777, testStart)); err != nil {
		t.Fatalf("fix rejected: %v", err)
	}

	// 31 minutes of silence, then a sweep.
	clock.advance(31 * time.Minute)
	tr.SweepIdle(ctx)

	if sink.finalCount() != 1 {
		t.Fatalf("final snapshots distributed = %d, want 1", sink.finalCount())
	}
	sink.mu.Lock()
	reason := sink.finals[0].Reason
	sink.mu.Unlock()
	if reason != EvictIdle {
		t.Errorf("eviction reason = %s, want idle", reason)
	}

	_, err := tr.HandleFix(ctx, fixAt(19.0860, 72.8777, clock.now()))
	if !errors.Is(err, ErrUnknownTrip) && !errors.Is(err, ErrTripNotActive) {
		t.Errorf("fix after eviction error = %v, want trip no longer updatable", err)
	}
}

func TestTracker_SweepSparesActiveTrips(t *testing.T) {
	clock := newFakeClock(testStart)
	sink := &captureSink{}
	tr := newTestTracker(clock, sink)
	startTestTrip(t, tr)
	ctx := context.Background()

	if _, err := tr.HandleFix(ctx, fixAt(19.0850, 72.8777, testStart)); err != nil {
		t.Fatalf("fix rejected: %v", err)
	}

	clock.advance(20 * time.Minute)
	if _, err := tr.HandleFix(ctx, fixAt(19.0860, 72.8777, clock.now())); err != nil {
		t.Fatalf("second fix rejected: %v", err)
	}

	// 29 minutes after the last fix: still inside the idle window.
	clock.advance(29 * time.Minute)
	tr.SweepIdle(ctx)
	if sink.finalCount() != 0 {
		t.Error("sweep evicted a trip that was not idle past the threshold")
	}
}

func TestTracker_CompleteEvictsAndBlocksUpdates(t *testing.T) {
	sink := &captureSink{}
	tr := newTestTracker(nil, sink)
	startTestTrip(t, tr)
	ctx := context.Background()

	if _, err := tr.HandleFix(ctx, fixAt(19.0850, 72.8777, testStart)); err != nil {
		t.Fatalf("fix rejected: %v", err)
	}

	final, err := tr.CompleteTrip(ctx, "trip-1")
	if err != nil {
		t.Fatalf("CompleteTrip: %v", err)
	}
	if final.Reason != EvictCompleted {
		t.Errorf("reason = %s, want completed", final.Reason)
	}
	if final.Trip.CumulativeDistanceKm <= 0 {
		t.Error("final snapshot lost the accumulated distance")
	}

	if _, err := tr.CompleteTrip(ctx, "trip-1"); !errors.Is(err, ErrTripNotActive) {
		t.Errorf("second CompleteTrip error = %v, want ErrTripNotActive", err)
	}
}

func TestTracker_ElapsedSecondsFromClock(t *testing.T) {
	clock := newFakeClock(testStart)
	tr := newTestTracker(clock, nil)
	startTestTrip(t, tr)
	ctx := context.Background()

	clock.advance(10 * time.Minute)
	snap, err := tr.HandleFix(ctx, fixAt(19.0850, 72.8777, clock.now()))
	if err != nil {
		t.Fatalf("fix rejected: %v", err)
	}
	if snap.Trip.ElapsedSeconds != 600 {
		t.Errorf("ElapsedSeconds = %d, want 600", snap.Trip.ElapsedSeconds)
	}
}

func TestTracker_GetSnapshotBeforeFirstFix(t *testing.T) {
	tr := newTestTracker(nil, nil)
	startTestTrip(t, tr)

	snap, err := tr.GetSnapshot(context.Background(), "trip-1")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a seed-based snapshot before the first fix")
	}
	if snap.Trip.Position.Lat != 19.0760 {
		t.Errorf("seed position not used: %v", snap.Trip.Position)
	}

	unknown, err := tr.GetSnapshot(context.Background(), "no-such-trip")
	if err != nil || unknown != nil {
		t.Errorf("unknown trip snapshot = (%v, %v), want (nil, nil)", unknown, err)
	}
}

func TestTracker_ConcurrentFixesSameTrip(t *testing.T) {
	tr := newTestTracker(nil, nil)
	startTestTrip(t, tr)
	ctx := context.Background()

	// Near-simultaneous duplicate delivery from an unreliable transport:
	// updates for one trip are serialized, never interleaved.
	fix := fixAt(19.0850, 72.8777, testStart.Add(time.Minute))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tr.HandleFix(ctx, fix)
		}()
	}
	wg.Wait()

	snap, err := tr.GetSnapshot(ctx, "trip-1")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	// First delivery moves seed→fix (~1 km); every other one is a duplicate
	// with a zero delta.
	if snap.Trip.CumulativeDistanceKm > 1.1 {
		t.Errorf("duplicate deliveries inflated the distance: %f km", snap.Trip.CumulativeDistanceKm)
	}
}
