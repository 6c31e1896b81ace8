package server

import (
	"log"
	"sync"

	"github.com/hemut/qna-dashboard/internal/stats"
)

// EventBus assigns per-room sequence numbers and fans events out to
// subscribers. Sequence counters survive room garbage collection so a
// room that empties and refills keeps a strictly increasing sequence.
//
// Publish holds the bus lock across sequence assignment and fan-out
// enqueue, so all subscribers of a room observe events in identical
// order. Per-connection delivery is decoupled through each client's
// bounded queue; a full queue disconnects that client only.
type EventBus struct {
	mu       sync.Mutex
	seqs     map[string]int64
	registry *RoomRegistry
	log      *log.Logger
	stats    stats.StatsProvider
}

func NewEventBus(logger *log.Logger, registry *RoomRegistry, sp stats.StatsProvider) *EventBus {
	return &EventBus{
		seqs:     make(map[string]int64),
		registry: registry,
		log:      logger,
		stats:    sp,
	}
}

// Publish stamps the next sequence number for room, enqueues the event
// on every subscribed connection, and returns the published event.
// Connections whose queue is full are disconnected rather than
// blocking the other members or the publisher.
func (b *EventBus) Publish(room, kind string, payload any) Event {
	evt := &Event{
		Room:      room,
		Kind:      kind,
		Payload:   payload,
		Timestamp: Now(),
	}

	b.mu.Lock()
	b.seqs[room]++
	evt.Seq = b.seqs[room]
	overflowed := b.registry.deliver(evt)
	b.mu.Unlock()

	b.stats.Incr(statEventsPublished)

	for _, c := range overflowed {
		b.log.Printf("disconnecting slow consumer %s on room %q at seq %d", c.id, room, evt.Seq)
		b.stats.Incr(statSlowConsumerDrops)
		c.Terminate(CloseSlowConsumer, "outbound queue overflow")
	}

	return *evt
}

// Seq returns the last sequence number assigned for room, zero if the
// room has never seen a publish.
func (b *EventBus) Seq(room string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.seqs[room]
}
