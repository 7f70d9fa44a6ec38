// Package hub is the in-process fan-out for game rooms. A room exists per
// active game; every websocket session subscribes to its game's room and
// receives the events published after it subscribed.
package hub

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/conclave-mtg/conclave-api/internal/comm"
)

// ErrNoRoom is returned when publishing to a game that has no room. The
// service always gets-or-creates the room before publishing, so hitting this
// indicates a logic error upstream.
var ErrNoRoom = errors.New("no room for game")

// subscriberBuffer bounds how far a slow subscriber may fall behind before it
// starts missing events. Delivery is best effort, not a durable log.
const subscriberBuffer = 64

type Hub struct {
	rooms sync.Map // uuid.UUID -> *Room
}

func NewHub() *Hub {
	return &Hub{}
}

type Room struct {
	gameID uuid.UUID

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one fan-out endpoint. Closure of C signals room teardown
// and must be treated as a terminal disconnect, not an error to retry.
type Subscription struct {
	C <-chan comm.Event

	ch   chan comm.Event
	room *Room
	once sync.Once
}

// GetOrCreateRoom lazily creates the room. Concurrent callers racing on the
// same game observe the same single room instance.
func (h *Hub) GetOrCreateRoom(gameID uuid.UUID) *Room {
	if r, ok := h.rooms.Load(gameID); ok {
		return r.(*Room)
	}
	room := &Room{gameID: gameID, subs: make(map[*Subscription]struct{})}
	actual, _ := h.rooms.LoadOrStore(gameID, room)
	return actual.(*Room)
}

func (h *Hub) Room(gameID uuid.UUID) (*Room, bool) {
	r, ok := h.rooms.Load(gameID)
	if !ok {
		return nil, false
	}
	return r.(*Room), true
}

// Subscribe attaches a fresh endpoint to the game's room, creating the room
// if needed.
func (h *Hub) Subscribe(gameID uuid.UUID) *Subscription {
	return h.GetOrCreateRoom(gameID).subscribe()
}

// Publish fans the event out to every current subscriber of the game's room.
// It never blocks: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(gameID uuid.UUID, event comm.Event) error {
	room, ok := h.Room(gameID)
	if !ok {
		return ErrNoRoom
	}
	room.publish(event)
	return nil
}

// Teardown removes the room and closes every subscriber channel. Safe to call
// for a game that has no room.
func (h *Hub) Teardown(gameID uuid.UUID) {
	r, ok := h.rooms.LoadAndDelete(gameID)
	if !ok {
		return
	}
	r.(*Room).close()
}

func (r *Room) subscribe() *Subscription {
	sub := &Subscription{ch: make(chan comm.Event, subscriberBuffer), room: r}
	sub.C = sub.ch

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		// Room torn down between lookup and subscribe; hand back an already
		// closed endpoint so the caller sees the terminal signal immediately.
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	r.subs[sub] = struct{}{}
	return sub
}

func (r *Room) publish(event comm.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for sub := range r.subs {
		select {
		case sub.ch <- event:
		default:
			log.Warnf("dropping %s event for game %s: subscriber lagging", event.Type, r.gameID)
		}
	}
}

func (r *Room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for sub := range r.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	r.subs = make(map[*Subscription]struct{})
}

// SubscriberCount reports how many endpoints are attached to the game's room.
func (h *Hub) SubscriberCount(gameID uuid.UUID) int {
	room, ok := h.Room(gameID)
	if !ok {
		return 0
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return len(room.subs)
}

// Cancel detaches the subscription from its room and closes the channel.
// Cancelling twice, or after room teardown, is a no-op.
func (s *Subscription) Cancel() {
	s.room.mu.Lock()
	delete(s.room.subs, s)
	s.room.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
