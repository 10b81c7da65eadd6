// README: Live feed fan-out with per-trip last-write-wins coalescing.
package feed

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ridepulse/internal/modules/tracking"
	"ridepulse/internal/types"
)

// Listener receives consolidated snapshots for one trip. A nil Final means a
// regular tick; the final delivery carries the eviction snapshot and is the
// last call the listener will see.
type Listener func(snap tracking.ConsolidatedSnapshot, final *tracking.FinalSnapshot)

// Distributor fans the latest snapshot of each trip out to its subscribers.
// Delivery per listener is independent: a slow or failing listener only
// stalls its own goroutine, and while it is busy newer snapshots replace the
// pending one — consumers of a live dashboard only care about current state.
type Distributor struct {
	mu    sync.RWMutex
	trips map[types.ID]map[string]*subscriber
	log   *logrus.Logger
}

func NewDistributor(log *logrus.Logger) *Distributor {
	if log == nil {
		log = logrus.New()
	}
	return &Distributor{
		trips: make(map[types.ID]map[string]*subscriber),
		log:   log,
	}
}

type delivery struct {
	snap  tracking.ConsolidatedSnapshot
	final *tracking.FinalSnapshot
}

type subscriber struct {
	id   string
	ch   chan delivery // capacity 1: the pending slot
	done chan struct{}
	once sync.Once
}

// Subscribe registers a listener for a trip and returns its unsubscribe
// function. Unsubscribing twice is a no-op.
func (d *Distributor) Subscribe(tripID types.ID, fn Listener) func() {
	sub := &subscriber{
		id:   uuid.NewString(),
		ch:   make(chan delivery, 1),
		done: make(chan struct{}),
	}

	d.mu.Lock()
	subs := d.trips[tripID]
	if subs == nil {
		subs = make(map[string]*subscriber)
		d.trips[tripID] = subs
	}
	subs[sub.id] = sub
	d.mu.Unlock()

	go d.run(tripID, sub, fn)

	return func() {
		sub.once.Do(func() {
			d.mu.Lock()
			if subs := d.trips[tripID]; subs != nil {
				delete(subs, sub.id)
				if len(subs) == 0 {
					delete(d.trips, tripID)
				}
			}
			d.mu.Unlock()
			close(sub.done)
		})
	}
}

// Publish hands the latest snapshot to every subscriber of the trip. If a
// subscriber still has an undelivered snapshot pending, the new one replaces
// it; intermediate states are not guaranteed delivery.
func (d *Distributor) Publish(tripID types.ID, snap tracking.ConsolidatedSnapshot) {
	d.publish(tripID, delivery{snap: snap})
}

// PublishFinal delivers the eviction snapshot and then drops the trip's
// subscriptions; nothing further will be published for this trip.
func (d *Distributor) PublishFinal(tripID types.ID, final tracking.FinalSnapshot) {
	d.publish(tripID, delivery{snap: final.ConsolidatedSnapshot, final: &final})

	d.mu.Lock()
	subs := d.trips[tripID]
	delete(d.trips, tripID)
	d.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}

func (d *Distributor) publish(tripID types.ID, del delivery) {
	d.mu.RLock()
	subs := make([]*subscriber, 0, len(d.trips[tripID]))
	for _, sub := range d.trips[tripID] {
		subs = append(subs, sub)
	}
	d.mu.RUnlock()

	for _, sub := range subs {
		sub.offer(del)
	}
}

// offer places the delivery in the pending slot, displacing an undelivered
// predecessor. Never blocks the publisher.
func (s *subscriber) offer(del delivery) {
	for {
		select {
		case s.ch <- del:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// run delivers pending snapshots to one listener until it unsubscribes. The
// final pending delivery is drained before exit so an eviction snapshot is
// not lost to the shutdown race.
func (d *Distributor) run(tripID types.ID, sub *subscriber, fn Listener) {
	for {
		select {
		case del := <-sub.ch:
			d.invoke(tripID, fn, del)
		case <-sub.done:
			select {
			case del := <-sub.ch:
				d.invoke(tripID, fn, del)
			default:
			}
			return
		}
	}
}

// invoke isolates listener failures; a panicking listener is logged, never
// propagated back into the fix-processing path.
func (d *Distributor) invoke(tripID types.ID, fn Listener, del delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{"trip_id": tripID, "panic": r}).Warn("feed listener panicked")
		}
	}()
	fn(del.snap, del.final)
}
