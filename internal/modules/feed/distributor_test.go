package feed

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ridepulse/internal/modules/tracking"
)

func snapshotN(n float64) tracking.ConsolidatedSnapshot {
	return tracking.ConsolidatedSnapshot{
		Trip:        tracking.TripTrackSnapshot{TripID: "t1", CumulativeDistanceKm: n},
		GeneratedAt: time.Now(),
	}
}

func TestDistributor_DeliversLatestSnapshot(t *testing.T) {
	d := NewDistributor(nil)

	var mu sync.Mutex
	var got []float64
	done := make(chan struct{}, 1)

	unsub := d.Subscribe("t1", func(snap tracking.ConsolidatedSnapshot, final *tracking.FinalSnapshot) {
		mu.Lock()
		got = append(got, snap.Trip.CumulativeDistanceKm)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer unsub()

	d.Publish("t1", snapshotN(1))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 || got[len(got)-1] != 1 {
		t.Errorf("listener got %v, want delivery of snapshot 1", got)
	}
}

func TestDistributor_CoalescesWhileListenerBusy(t *testing.T) {
	d := NewDistributor(nil)

	block := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	var got []float64

	unsub := d.Subscribe("t1", func(snap tracking.ConsolidatedSnapshot, final *tracking.FinalSnapshot) {
		mu.Lock()
		got = append(got, snap.Trip.CumulativeDistanceKm)
		mu.Unlock()
		if snap.Trip.CumulativeDistanceKm == 1 {
			close(started)
			<-block // slow listener
		}
	})
	defer unsub()

	d.Publish("t1", snapshotN(1))
	<-started

	// While the listener is stuck on snapshot 1, these should coalesce down
	// to only the last one.
	d.Publish("t1", snapshotN(2))
	d.Publish("t1", snapshotN(3))
	d.Publish("t1", snapshotN(4))
	close(block)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		last := 0.0
		if n > 0 {
			last = got[n-1]
		}
		mu.Unlock()
		if last == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("never saw snapshot 4; got %v", got)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, v := range got {
		if v == 2 || v == 3 {
			t.Errorf("intermediate snapshot %v delivered; wanted coalescing to latest only (got %v)", v, got)
		}
	}
}

func TestDistributor_UnsubscribeIdempotent(t *testing.T) {
	d := NewDistributor(nil)

	var calls atomic.Int64
	unsubA := d.Subscribe("t1", func(tracking.ConsolidatedSnapshot, *tracking.FinalSnapshot) {})
	unsubB := d.Subscribe("t1", func(snap tracking.ConsolidatedSnapshot, final *tracking.FinalSnapshot) {
		calls.Add(1)
	})

	unsubA()
	unsubA() // second call must not error or double-remove

	d.Publish("t1", snapshotN(1))

	deadline := time.After(2 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("remaining subscriber no longer receives after double unsubscribe of another")
		case <-time.After(5 * time.Millisecond):
		}
	}
	unsubB()
}

func TestDistributor_ListenerPanicIsolated(t *testing.T) {
	d := NewDistributor(nil)

	var healthy atomic.Int64
	unsubPanic := d.Subscribe("t1", func(tracking.ConsolidatedSnapshot, *tracking.FinalSnapshot) {
		panic("listener bug")
	})
	defer unsubPanic()
	unsubOK := d.Subscribe("t1", func(tracking.ConsolidatedSnapshot, *tracking.FinalSnapshot) {
		healthy.Add(1)
	})
	defer unsubOK()

	d.Publish("t1", snapshotN(1))
	d.Publish("t1", snapshotN(2))

	deadline := time.After(2 * time.Second)
	for healthy.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("healthy listener starved by panicking sibling")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDistributor_FinalSnapshotDelivered(t *testing.T) {
	d := NewDistributor(nil)

	finalSeen := make(chan tracking.EvictReason, 1)
	d.Subscribe("t1", func(snap tracking.ConsolidatedSnapshot, final *tracking.FinalSnapshot) {
		if final != nil {
			select {
			case finalSeen <- final.Reason:
			default:
			}
		}
	})

	d.PublishFinal("t1", tracking.FinalSnapshot{
		ConsolidatedSnapshot: snapshotN(9),
		Reason:               tracking.EvictCompleted,
	})

	select {
	case reason := <-finalSeen:
		if reason != tracking.EvictCompleted {
			t.Errorf("final reason = %s, want completed", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("final snapshot never delivered")
	}

	// The trip's subscriptions are gone; publishing again must not panic.
	d.Publish("t1", snapshotN(10))
}

func TestDistributor_TripsIsolated(t *testing.T) {
	d := NewDistributor(nil)

	var t2calls atomic.Int64
	unsub := d.Subscribe("t2", func(tracking.ConsolidatedSnapshot, *tracking.FinalSnapshot) {
		t2calls.Add(1)
	})
	defer unsub()

	d.Publish("t1", snapshotN(1))
	time.Sleep(50 * time.Millisecond)
	if t2calls.Load() != 0 {
		t.Error("subscriber of t2 received a snapshot published for t1")
	}
}

var _ tracking.Sink = (*Distributor)(nil)
