package server

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hemut/qna-dashboard/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024

	// outboundQueueSize bounds the per-connection event queue; overflow
	// disconnects the connection.
	outboundQueueSize = 256

	maxRoomIdLen = 64
)

// Application close codes presented to clients.
const (
	CloseAuthFailure  = 4401
	CloseSlowConsumer = 4429
)

// Connection lifecycle states. Clients are constructed only after the
// credential check in FeedServer.HandleConnection, so a Client starts
// life authenticated; the pre-auth phase never produces one.
const (
	StateAuthenticated int32 = iota
	StateSubscribed
	StateClosing
	StateClosed
)

// Client owns one live websocket connection: its identity, its bounded
// outbound queue, and its read/write pumps. Outbound writes are
// serialized through the write pump; the event bus only ever touches
// the queue.
type Client struct {
	id       string
	conn     *websocket.Conn
	server   *FeedServer
	registry *RoomRegistry
	log      *log.Logger
	identity auth.Identity
	send     chan any
	stop     chan struct{}
	state    atomic.Int32
	teardown sync.Once
}

func newClient(identity auth.Identity, conn *websocket.Conn, fs *FeedServer) *Client {
	c := &Client{
		id:       uuid.NewString(),
		conn:     conn,
		server:   fs,
		registry: fs.registry,
		log:      fs.log,
		identity: identity,
		send:     make(chan any, outboundQueueSize),
		stop:     make(chan struct{}),
	}
	c.state.Store(StateAuthenticated)
	return c
}

// State returns the connection's current lifecycle state.
func (c *Client) State() int32 {
	return c.state.Load()
}

// Identity returns the principal authenticated at connect time.
func (c *Client) Identity() auth.Identity {
	return c.identity
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write pump for %s exiting", c.id)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if c.identity.Expired(time.Now()) {
				// Credential lapsed mid-connection: close with a
				// distinguishable reason instead of dropping frames.
				c.Terminate(CloseAuthFailure, auth.ErrorExpired.String())
				return
			}

			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.close(websocket.CloseNormalClosure, "")
		c.log.Printf("read pump for %s exiting", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.log.Println("error parsing command:", err)
			c.queueFrame(errInvalidCommand("", ""))
			continue
		}

		c.handleCommand(&cmd)
	}
}

func (c *Client) handleCommand(cmd *Command) {
	if !validRoomId(cmd.Room) {
		c.queueFrame(errInvalidRoom(cmd.Action, cmd.Room))
		return
	}

	switch cmd.Action {
	case ActionSubscribe:
		if !c.registry.Subscribe(c, cmd.Room) {
			return
		}
		// CompareAndSwap so a teardown that started after the subscribe
		// keeps its closing state.
		c.state.CompareAndSwap(StateAuthenticated, StateSubscribed)
		c.queueFrame(&Ack{OK: true, Action: cmd.Action, Room: cmd.Room})
	case ActionUnsubscribe:
		c.registry.Unsubscribe(c, cmd.Room)
		if c.registry.RoomCountOf(c) == 0 {
			c.state.CompareAndSwap(StateSubscribed, StateAuthenticated)
		}
		c.queueFrame(&Ack{OK: true, Action: cmd.Action, Room: cmd.Room})
	default:
		c.queueFrame(errInvalidCommand(cmd.Action, cmd.Room))
	}
}

// queueEvent places msg on the outbound queue without blocking. A
// false return means the queue is full.
func (c *Client) queueEvent(msg any) bool {
	select {
	case c.send <- msg:
	default:
		return false
	}

	return true
}

// queueFrame queues an ack or error frame, logging the drop when the
// queue is full.
func (c *Client) queueFrame(msg any) {
	if !c.queueEvent(msg) {
		c.log.Printf("dropping control frame for %s: outbound queue full", c.id)
	}
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// Terminate force-closes the connection with the given close code and
// reason. Safe to call from any goroutine, including concurrently with
// an in-flight publish targeting this connection.
func (c *Client) Terminate(code int, reason string) {
	c.close(code, reason)
}

// close runs the guaranteed-once teardown: membership drop, server
// deregistration, close frame, transport close.
func (c *Client) close(code int, reason string) {
	c.teardown.Do(func() {
		c.state.Store(StateClosing)

		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			c.log.Printf("write close frame for %s: %v", c.id, err)
		}

		close(c.stop)
		c.registry.DropConnection(c)
		c.server.removeClient(c)
		c.conn.Close()

		c.state.Store(StateClosed)
	})
}

func validRoomId(room string) bool {
	if room == "" || len(room) > maxRoomIdLen {
		return false
	}

	for _, r := range room {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}

	return true
}
