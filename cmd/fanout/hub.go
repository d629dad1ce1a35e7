package main

import (
	"context"
	"sync"

	"github.com/lyzr/assembly/cmd/station/events"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Hub maintains active WebSocket connections and broadcasts station events
type Hub struct {
	// Map: station id → []*Client. Clients under events.AllStations
	// receive every message.
	connections map[string][]*Client
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting messages
	broadcast chan *Message

	// Closed when Run returns
	done chan struct{}

	logger Logger
}

// Message is one event payload for a station
type Message struct {
	StationID string
	Data      []byte
}

// NewHub creates a new Hub instance
func NewHub(logger Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run starts the hub's main loop. Every client is disconnected when ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToStation(message)
		}
	}
}

// Register adds a client unless the hub has stopped
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client unless the hub has stopped
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message unless ctx ends or the hub has stopped
func (h *Hub) Broadcast(ctx context.Context, message *Message) {
	select {
	case h.broadcast <- message:
	case <-ctx.Done():
	case <-h.done:
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.stationID] = append(h.connections[client.stationID], client)
	h.logger.Info("client registered",
		"station_id", client.stationID,
		"total_for_station", len(h.connections[client.stationID]))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.removeLocked(client) {
		h.logger.Info("client unregistered",
			"station_id", client.stationID,
			"remaining_for_station", len(h.connections[client.stationID]))
	}
}

// removeLocked drops client and closes its send channel. It reports false
// when the client was already gone.
func (h *Hub) removeLocked(client *Client) bool {
	clients := h.connections[client.stationID]
	for i, c := range clients {
		if c != client {
			continue
		}
		h.connections[client.stationID] = append(clients[:i:i], clients[i+1:]...)
		close(client.send)

		// If no more clients for this station, remove the map entry
		if len(h.connections[client.stationID]) == 0 {
			delete(h.connections, client.stationID)
		}
		return true
	}
	return false
}

// broadcastToStation sends a message to the station's clients and to the
// clients watching all stations
func (h *Hub) broadcastToStation(message *Message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	targets := append([]*Client(nil), h.connections[message.StationID]...)
	if message.StationID != events.AllStations {
		targets = append(targets, h.connections[events.AllStations]...)
	}
	if len(targets) == 0 {
		return
	}

	h.logger.Debug("broadcasting event",
		"station_id", message.StationID,
		"client_count", len(targets))

	for _, client := range targets {
		select {
		case client.send <- message.Data:
		default:
			// Client's send buffer is full, close the connection
			h.logger.Warn("client send buffer full, closing connection", "station_id", client.stationID)
			h.removeLocked(client)
		}
	}
}

// closeAll disconnects every client
func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for stationID, clients := range h.connections {
		for _, client := range clients {
			close(client.send)
		}
		delete(h.connections, stationID)
	}
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// GetStationCount returns the number of stations with at least one watcher
func (h *Hub) GetStationCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
