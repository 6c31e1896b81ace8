package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hemut/qna-dashboard/internal/testutil"
)

func newTestBus(t *testing.T) (*EventBus, *RoomRegistry) {
	r := newTestRegistry(t)
	return NewEventBus(testutil.TestLogger(t), r, newTestStats()), r
}

func drainSeqs(c *Client) []int64 {
	var seqs []int64
	for {
		select {
		case msg := <-c.send:
			if evt, ok := msg.(*Event); ok {
				seqs = append(seqs, evt.Seq)
			}
		default:
			return seqs
		}
	}
}

func TestPublish_AssignsIncreasingSeqs(t *testing.T) {
	bus, registry := newTestBus(t)
	c := newQueuedClient(16)
	registry.Subscribe(c, "Q1")

	for i := 1; i <= 5; i++ {
		evt := bus.Publish("Q1", KindAnswerCreated, nil)
		assert.Equal(t, int64(i), evt.Seq, "expected strictly increasing sequence numbers")
		assert.Equal(t, "Q1", evt.Room)
		assert.Equal(t, KindAnswerCreated, evt.Kind)
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, drainSeqs(c), "expected gap-free in-order delivery")
}

func TestPublish_IdenticalOrderAcrossSubscribers(t *testing.T) {
	bus, registry := newTestBus(t)
	c1 := newQueuedClient(16)
	c2 := newQueuedClient(16)
	registry.Subscribe(c1, "Q1")
	registry.Subscribe(c2, "Q1")

	for range 5 {
		bus.Publish("Q1", KindAnswerCreated, nil)
	}

	seqs1 := drainSeqs(c1)
	seqs2 := drainSeqs(c2)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs1, "expected first subscriber to see every event in order")
	assert.Equal(t, seqs1, seqs2, "expected both subscribers to observe the identical sequence")
}

func TestPublish_MidStreamSubscriber(t *testing.T) {
	bus, registry := newTestBus(t)

	// seq 1 and 2 published before the subscription exists
	bus.Publish("Q42", KindAnswerCreated, nil)
	bus.Publish("Q42", KindAnswerCreated, nil)

	c := newQueuedClient(16)
	registry.Subscribe(c, "Q42")

	bus.Publish("Q42", KindAnswerCreated, nil)
	bus.Publish("Q42", KindAnswerCreated, nil)
	bus.Publish("Q42", KindAnswerCreated, nil)

	assert.Equal(t, []int64{3, 4, 5}, drainSeqs(c),
		"expected mid-stream subscriber to receive exactly the events published after subscribing")
}

func TestPublish_SeqSurvivesEmptyRoom(t *testing.T) {
	bus, registry := newTestBus(t)
	c := newQueuedClient(16)

	registry.Subscribe(c, "Q1")
	bus.Publish("Q1", KindAnswerCreated, nil)
	registry.Unsubscribe(c, "Q1")
	assert.Equal(t, 0, registry.NumRooms(), "expected room collected at zero membership")

	// the sequence counter outlives the room's membership
	evt := bus.Publish("Q1", KindAnswerCreated, nil)
	assert.Equal(t, int64(2), evt.Seq, "expected sequence to continue after room GC")
}

func TestPublish_AfterUnsubscribe(t *testing.T) {
	bus, registry := newTestBus(t)
	c := newQueuedClient(16)
	registry.Subscribe(c, "Q1")

	bus.Publish("Q1", KindAnswerCreated, nil)
	registry.Unsubscribe(c, "Q1")
	bus.Publish("Q1", KindAnswerCreated, nil)

	assert.Equal(t, []int64{1}, drainSeqs(c), "expected no delivery after unsubscribe completed")
}

func TestPublish_SlowConsumerDisconnected(t *testing.T) {
	fs := newTestFeedServer(t)
	bus, registry := fs.bus, fs.registry

	slow, slowPeer := newTestClientPair(t, fs, 1)
	healthy, _ := newTestClientPair(t, fs, 16)

	registry.Subscribe(slow, "Q1")
	registry.Subscribe(healthy, "Q1")

	// The slow client's write pump is not running, so its single-slot
	// queue fills on the first publish and overflows on the second.
	bus.Publish("Q1", KindAnswerCreated, nil)
	bus.Publish("Q1", KindAnswerCreated, nil)
	bus.Publish("Q1", KindAnswerCreated, nil)

	assert.Equal(t, StateClosed, slow.State(), "expected slow consumer to be closed")
	assert.NotContains(t, registry.MembersOf("Q1"), slow, "expected slow consumer dropped from room")

	assert.Contains(t, registry.MembersOf("Q1"), healthy, "expected other member unaffected")
	seqs := drainSeqs(healthy)
	assert.Equal(t, []int64{1, 2, 3}, seqs, "expected other member to receive every event in order")

	// the slow consumer's peer observes the close frame
	closeErr := readClose(t, slowPeer)
	assert.Equal(t, CloseSlowConsumer, closeErr.Code, "expected slow consumer close code")
	assert.Equal(t, "outbound queue overflow", closeErr.Text)
}
