package server

import (
	"log"
	"sync"

	"github.com/hemut/qna-dashboard/internal/stats"
)

// RoomRegistry tracks which live connections are subscribed to which
// rooms. Rooms are created lazily on first subscribe and removed once
// their membership drains. All operations are idempotent.
//
// The registry is the single authority on membership: connection code
// never touches the maps directly. The mutex also covers fan-out
// enqueue (see EventBus.Publish) so that a subscribe observes either
// all or none of a concurrent publish.
type RoomRegistry struct {
	mu       sync.Mutex
	rooms    map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
	log      *log.Logger
	stats    stats.StatsProvider
}

func NewRoomRegistry(logger *log.Logger, sp stats.StatsProvider) *RoomRegistry {
	return &RoomRegistry{
		rooms:    make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
		log:      logger,
		stats:    sp,
	}
}

// Subscribe adds c to room and reports whether the subscription was
// accepted. Subscribing twice has the same effect as once. A client
// whose teardown has started is refused: teardown stores the closing
// state before it takes the registry lock, so a subscribe that lands
// after DropConnection can never re-register a dead connection.
func (r *RoomRegistry) Subscribe(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.State() >= StateClosing {
		r.log.Printf("refusing subscribe to %q for closed connection %s", room, c.id)
		return false
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
		r.stats.Incr(statActiveRooms)
		r.log.Printf("created room %q", room)
	}

	if _, ok := members[c]; ok {
		return true
	}
	members[c] = struct{}{}

	clientRooms, ok := r.byClient[c]
	if !ok {
		clientRooms = make(map[string]struct{})
		r.byClient[c] = clientRooms
	}
	clientRooms[room] = struct{}{}

	return true
}

// Unsubscribe removes c from room. Unsubscribing a non-member is a
// no-op.
func (r *RoomRegistry) Unsubscribe(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(c, room)
}

// DropConnection removes c from every room it belongs to. Safe to call
// more than once and safe to call after individual unsubscribes.
func (r *RoomRegistry) DropConnection(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.byClient[c] {
		r.removeLocked(c, room)
	}
	delete(r.byClient, c)
}

// MembersOf returns a snapshot of the connections subscribed to room.
func (r *RoomRegistry) MembersOf(room string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		members = append(members, c)
	}
	return members
}

// RoomCountOf returns the number of rooms c is currently subscribed to.
func (r *RoomRegistry) RoomCountOf(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byClient[c])
}

// NumRooms returns the number of rooms with at least one member.
func (r *RoomRegistry) NumRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms)
}

func (r *RoomRegistry) removeLocked(c *Client, room string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}

	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)

	if clientRooms, ok := r.byClient[c]; ok {
		delete(clientRooms, room)
		if len(clientRooms) == 0 {
			delete(r.byClient, c)
		}
	}

	if len(members) == 0 {
		delete(r.rooms, room)
		r.stats.Decr(statActiveRooms)
		r.log.Printf("removed empty room %q", room)
	}
}

// deliver fans evt out to every current member of its room under the
// registry lock and reports the members whose outbound queue was full.
// Holding the lock through the enqueue keeps delivery consistent with
// concurrent subscribe and unsubscribe calls on the same room.
func (r *RoomRegistry) deliver(evt *Event) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	var overflowed []*Client
	for c := range r.rooms[evt.Room] {
		if !c.queueEvent(evt) {
			overflowed = append(overflowed, c)
		}
	}
	return overflowed
}
