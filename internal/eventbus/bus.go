// Package eventbus is the single-producer-multi-consumer broadcast of state
// transitions described in spec.md §4.G: bounded per-subscriber buffers, a
// Lagged notification for slow consumers, and per-stream ordering (a single
// order or position's events are never reordered relative to each other).
package eventbus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	OrderAccepted  EventType = "order_accepted"
	Trade          EventType = "trade"
	OrderClosed    EventType = "order_closed"
	PositionOpened EventType = "position_opened"
	PositionUpdated EventType = "position_updated"
	PositionClosed EventType = "position_closed"
	Liquidation    EventType = "liquidation"
	FundingApplied EventType = "funding_applied"
	RequestOpened  EventType = "request_opened"
	QuoteReceived  EventType = "quote_received"
	QuoteAccepted  EventType = "quote_accepted"

	// Lagged is synthesized locally by a Subscription, never published by a
	// producer: it tells a slow consumer it missed events and must
	// reconcile against the durable store.
	Lagged EventType = "lagged"
)

// StreamKey groups events that must preserve relative order: all events for
// one order id, one position id, one negotiation request id, or one market's
// trades. Events with different stream keys carry no ordering guarantee
// relative to each other, only relative to the bus's global Seq for debugging.
type StreamKey struct {
	Kind string // "order" | "position" | "request" | "market" | "" for unkeyed events
	ID   string
}

type Event struct {
	Type      EventType
	Market    string
	Stream    StreamKey
	Data      interface{}
	Seq       uint64
	Timestamp time.Time
}

const defaultSubscriberCapacity = 256

// Bus fans a published Event out to every live Subscription. Publish never
// blocks: a subscriber whose buffer is full has its oldest buffered event
// dropped and is marked lagged, rather than stalling the publisher (which
// would stall the matching hot path that feeds it).
type Bus struct {
	mu        sync.Mutex
	seq       uint64
	nextSubID uint64
	subs      map[uint64]*Subscription
	capacity  int
	clock     func() time.Time
}

func NewBus(capacity int, now func() time.Time) *Bus {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Bus{
		subs:     make(map[uint64]*subscription),
		capacity: capacity,
		clock:    now,
	}
}

// Publish broadcasts evt to every current subscriber, stamping Seq and
// Timestamp. Safe to call from the matching hot path: it never suspends.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	b.seq++
	evt.Seq = b.seq
	evt.Timestamp = b.clock()
	for _, sub := range b.subs {
		sub.deliver(evt)
	}
	b.mu.Unlock()
}

// Subscription is one consumer's bounded view of the bus. Call Next in a
// loop; it returns a synthetic Lagged event (no Data) if this subscriber
// fell behind since the last call.
type Subscription struct {
	id  uint64
	bus *Bus
	ch  chan Event

	mu     sync.Mutex
	lagged bool
}

func (s *Subscription) deliver(evt Event) {
	select {
	case s.ch <- evt:
		return
	default:
	}
	// Buffer full: drop the oldest buffered event to make room, then enqueue
	// the new one, and flag the subscriber as lagged.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- evt:
	default:
	}
	s.mu.Lock()
	s.lagged = true
	s.mu.Unlock()
}

// Subscribe registers a new consumer with a bounded buffer. Callers must
// eventually call Unsubscribe or the bus leaks the channel.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub := &Subscription{
		id:  b.nextSubID,
		bus: b,
		ch:  make(chan Event, b.capacity),
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub.id)
}

// Next blocks until an event is available, ctx is cancelled, or this
// subscriber had events dropped since the last call (in which case it
// returns a Lagged event immediately and clears the flag).
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	s.mu.Lock()
	if s.lagged {
		s.lagged = false
		s.mu.Unlock()
		return Event{Type: Lagged, Timestamp: time.Now()}, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case evt := <-s.ch:
		return evt, nil
	}
}
