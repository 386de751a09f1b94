package notify

import "sync"

// Event is a bus item: an envelope addressed to one user, or to everyone
// when All is set.
type Event struct {
	UserID int64
	All    bool
	Env    Envelope
}

// Bus is a process-wide lossy fan-out channel. Events land in a fixed
// capacity ring; each subscriber reads through its own cursor. A subscriber
// that falls more than the ring's capacity behind skips forward and loses
// the overwritten events. Publishers never block on a slow subscriber.
type Bus struct {
	mu   sync.Mutex
	ring []Event
	seq  uint64 // next write position
	subs map[*Subscriber]struct{}
}

// NewBus creates a bus with the given ring capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{
		ring: make([]Event, capacity),
		subs: make(map[*Subscriber]struct{}),
	}
}

// Publish appends an event addressed to one user and wakes subscribers.
func (b *Bus) Publish(userID int64, env Envelope) {
	b.publish(Event{UserID: userID, Env: env})
}

// PublishAll appends an event every subscriber delivers regardless of owner.
func (b *Bus) PublishAll(env Envelope) {
	b.publish(Event{All: true, Env: env})
}

func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	b.ring[b.seq%uint64(len(b.ring))] = ev
	b.seq++
	for sub := range b.subs {
		// Non-blocking wake; a pending signal already covers this event.
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribe registers a new reader positioned at the current end of the
// ring, so it only observes events published after this call.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		bus:    b,
		cursor: b.seq,
		wake:   make(chan struct{}, 1),
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Subscriber is one independent read cursor on the bus.
type Subscriber struct {
	bus    *Bus
	cursor uint64
	wake   chan struct{}
}

// Wake signals when at least one event past the cursor may exist. Drain
// with Next until it reports nothing pending, then select on Wake again.
func (s *Subscriber) Wake() <-chan struct{} {
	return s.wake
}

// Next returns the next unread event. skipped reports how many events were
// lost to ring overwrite since the previous call; ok is false when the
// cursor has caught up with the publishers.
func (s *Subscriber) Next() (ev Event, skipped uint64, ok bool) {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.cursor == b.seq {
		return Event{}, 0, false
	}
	capacity := uint64(len(b.ring))
	if b.seq-s.cursor > capacity {
		skipped = b.seq - capacity - s.cursor
		s.cursor = b.seq - capacity
	}
	ev = b.ring[s.cursor%capacity]
	s.cursor++
	return ev, skipped, true
}

// Close detaches the subscriber from the bus.
func (s *Subscriber) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
}
