package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hemut/qna-dashboard/internal/auth"
	"github.com/hemut/qna-dashboard/internal/stats"
)

const (
	statNumConnections    = "NumConnections"
	statActiveRooms       = "NumActiveRooms"
	statEventsPublished   = "EventsPublished"
	statSlowConsumerDrops = "SlowConsumerDrops"
)

// FeedServer owns the live side of the dashboard: it authenticates
// incoming websocket connections, tracks them for shutdown, and hosts
// the room registry and event bus the rest of the service publishes
// through.
type FeedServer struct {
	log         *log.Logger
	validator   *auth.Validator
	registry    *RoomRegistry
	bus         *EventBus
	stats       stats.StatsProvider
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
}

func NewFeedServer(logger *log.Logger, validator *auth.Validator, sp stats.StatsProvider) (*FeedServer, error) {
	registry := NewRoomRegistry(logger, sp)

	fs := &FeedServer{
		log:       logger,
		validator: validator,
		registry:  registry,
		bus:       NewEventBus(logger, registry, sp),
		stats:     sp,
		clients:   make(map[*Client]struct{}),
	}

	sp.RegisterMetric(statNumConnections)
	sp.RegisterMetric(statActiveRooms)
	sp.RegisterMetric(statEventsPublished)
	sp.RegisterMetric(statSlowConsumerDrops)

	return fs, nil
}

// Bus exposes the event bus for domain code publishing events.
func (fs *FeedServer) Bus() *EventBus {
	return fs.bus
}

// HandleConnection authenticates an upgraded websocket connection and,
// on success, registers it and starts its pumps. An invalid credential
// closes the connection with a distinguishable close reason and no
// room membership is ever created for it.
func (fs *FeedServer) HandleConnection(conn *websocket.Conn, token string) {
	identity, err := fs.validator.Validate(token, time.Now())
	if err != nil {
		reason := "unauthorized"
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			reason = authErr.Kind.String()
		}
		fs.log.Printf("rejecting connection: %v", err)

		msg := websocket.FormatCloseMessage(CloseAuthFailure, reason)
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := newClient(identity, conn, fs)
	fs.addClient(client)
	fs.log.Printf("accepted connection %s for user %d", client.id, identity.UserId)

	go client.Write()
	go client.Read()
}

func (fs *FeedServer) addClient(c *Client) {
	fs.clientsLock.Lock()
	defer fs.clientsLock.Unlock()
	fs.clients[c] = struct{}{}
	fs.stats.Incr(statNumConnections)
}

func (fs *FeedServer) removeClient(c *Client) {
	fs.clientsLock.Lock()
	defer fs.clientsLock.Unlock()

	if _, ok := fs.clients[c]; !ok {
		return
	}
	delete(fs.clients, c)
	fs.stats.Decr(statNumConnections)
}

// NumClients returns the number of live connections.
func (fs *FeedServer) NumClients() int {
	fs.clientsLock.Lock()
	defer fs.clientsLock.Unlock()
	return len(fs.clients)
}

// Shutdown closes every live connection and waits for them to drain,
// bounded by ctx.
func (fs *FeedServer) Shutdown(ctx context.Context) error {
	fs.clientsLock.Lock()
	clients := make([]*Client, 0, len(fs.clients))
	for c := range fs.clients {
		clients = append(clients, c)
	}
	fs.clientsLock.Unlock()

	fs.log.Printf("closing %d connections", len(clients))

	done := make(chan struct{})
	go func() {
		for _, c := range clients {
			c.Terminate(websocket.CloseGoingAway, "server shutting down")
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
