/*
Package collab contains the core logic for collaborative editing sessions.

This file defines the broadcaster, the per-room fan-out of events to
subscribers. Every subscriber gets its own buffered queue drained by its own
goroutine, so a slow or panicking handler can never stall the room's accept
path or starve other subscribers.
*/
package collab

import (
	"sync"
	"time"

	"textroom/internal/app/ot"
	"textroom/internal/app/user"

	"github.com/rs/zerolog"
)

// subscriberQueueSize bounds each subscriber's event backlog. A subscriber
// that falls this far behind starts losing events rather than blocking the
// room.
const subscriberQueueSize = 256

// EventType identifies the kind of room event delivered to subscribers.
type EventType string

const (
	EventJoin      EventType = "join"
	EventLeave     EventType = "leave"
	EventOperation EventType = "operation"
	EventPresence  EventType = "presence"
)

// Event is a room broadcast: a join/leave, an accepted (already transformed)
// operation, or a presence update. Exactly one of User, Operation, Presence
// is set, matching Type.
type Event struct {
	Type      EventType     `json:"type"`
	RoomID    string        `json:"roomId"`
	UserID    string        `json:"userId"`
	User      *user.User    `json:"user,omitempty"`
	Operation *ot.Operation `json:"operation,omitempty"`
	Presence  *Presence     `json:"presence,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Handler consumes room events. Handlers run on the subscriber's own
// goroutine; panics are recovered and logged without affecting anyone else.
type Handler func(Event)

// subscriber is one registered listener with its private delivery queue.
type subscriber struct {
	id      uint64
	events  chan Event
	handler Handler
}

// broadcaster fans room events out to its subscribers.
type broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
	logger zerolog.Logger
}

func newBroadcaster(logger zerolog.Logger) *broadcaster {
	return &broadcaster{
		subs:   make(map[uint64]*subscriber),
		logger: logger,
	}
}

// subscribe registers handler and returns an unsubscribe function. The
// handler starts receiving events published after registration.
func (b *broadcaster) subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	sub := &subscriber{
		id:      b.nextID,
		events:  make(chan Event, subscriberQueueSize),
		handler: handler,
	}
	b.subs[sub.id] = sub

	go sub.run(b.logger)

	id := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.events)
		}
	}
}

// publish enqueues the event for every subscriber without blocking. Full
// queues drop the event for that subscriber only.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.events <- ev:
		default:
			b.logger.Warn().
				Uint64("subscriber_id", sub.id).
				Str("event_type", string(ev.Type)).
				Msg("Subscriber queue full, dropping event.")
		}
	}
}

// close stops delivery and releases all subscriber goroutines.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.events)
	}
}

// run drains the subscriber queue, isolating handler panics.
func (s *subscriber) run(logger zerolog.Logger) {
	for ev := range s.events {
		s.dispatch(ev, logger)
	}
}

func (s *subscriber) dispatch(ev Event, logger zerolog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Uint64("subscriber_id", s.id).
				Str("event_type", string(ev.Type)).
				Interface("panic", rec).
				Msg("Subscriber handler panicked; event skipped.")
		}
	}()

	s.handler(ev)
}
