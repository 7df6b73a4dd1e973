package report

import (
	"sync"
)

// subscriberBuffer bounds how many undelivered mutations a slow
// subscriber may accumulate before it is dropped, keeping the Funder's
// own loop from blocking on a stalled app connection (§5 "A dropped app
// connection causes the Funder to cease emitting to that subscriber").
const subscriberBuffer = 256

// Subscription is a live feed of mutations for one subscriber (the app
// server, or the persistence writer).
type Subscription struct {
	id uint64
	ch chan Mutation
	bus *Bus
}

// Mutations returns the channel to range over for this subscription's
// mutations, in the exact order Bus.Emit was called.
func (s *Subscription) Mutations() <-chan Mutation {
	return s.ch
}

// Close unregisters the subscription and releases its channel.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Bus is the mutation fan-out: the Funder calls Emit after applying a
// Mutation to its own state, and every live Subscription
// receives it in that same order (§5 "mutations are emitted to report
// subscribers in the same order they are applied").
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	subs      map[uint64]chan Mutation
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]chan Mutation)}
}

// Subscribe registers a new subscriber and returns its feed. The caller
// is responsible for delivering an initial NodeReport snapshot before
// relying on the feed, matching §4.6's "initial full NodeReport... on
// subscribe".
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Mutation, subscriberBuffer)
	b.subs[id] = ch
	return &Subscription{id: id, ch: ch, bus: b}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Emit fans a mutation out to every live subscriber. A subscriber whose
// buffer is full is dropped rather than allowed to backpressure the
// owning event loop — a slow/stuck app should lose its mirror, not stall
// the node.
func (b *Bus) Emit(m Mutation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- m:
		default:
			log.Warnf("report: subscriber %d too slow, dropping", id)
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Count reports the number of live subscribers, used by healthcheck-style
// diagnostics and tests.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
