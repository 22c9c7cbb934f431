// Package main provides the WebSocket notification channel used to
// inform the presentation layer of completed mutations. Delivery is
// best-effort and not part of the consistency guarantees.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hweilin/ordersync/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only the co-located presentation layer may connect
		return strings.HasPrefix(r.Host, "localhost")
	},
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub maintains active client connections and broadcasts events.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Event types emitted to the presentation layer.
const (
	EventOrderCreated       = "order.created"
	EventOrderUpdated       = "order.updated"
	EventOrderStatusChanged = "order.status_changed"

	EventSyncCompleted        = "sync.completed"
	EventSyncConflictDetected = "sync.conflict_detected"

	EventConnectivityChanged = "connectivity.changed"
)

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %s", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("[WS] Client disconnected: %s", client.id)

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer is full, drop the connection
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all connected clients.
func (h *WSHub) Broadcast(eventType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("[WS] Failed to marshal event: %v", err)
		return
	}

	// Best-effort: if the broadcast buffer is full the event is lost,
	// never blocking the mutation path.
	select {
	case h.broadcast <- bytes:
	default:
	}
}

// BroadcastOrderCreated notifies clients of a new order.
func (h *WSHub) BroadcastOrderCreated(orderID string, total string) {
	h.Broadcast(EventOrderCreated, map[string]interface{}{
		"order_id": orderID,
		"total":    total,
	})
}

// BroadcastOrderUpdated notifies clients of an updated order.
func (h *WSHub) BroadcastOrderUpdated(orderID string) {
	h.Broadcast(EventOrderUpdated, map[string]interface{}{
		"order_id": orderID,
	})
}

// BroadcastStatusChanged notifies clients of a status transition.
func (h *WSHub) BroadcastStatusChanged(orderID, status string) {
	h.Broadcast(EventOrderStatusChanged, map[string]interface{}{
		"order_id": orderID,
		"status":   status,
	})
}

// BroadcastSyncCompleted notifies clients of a finished drain.
func (h *WSHub) BroadcastSyncCompleted(processed, failed, conflicts int) {
	h.Broadcast(EventSyncCompleted, map[string]interface{}{
		"processed": processed,
		"failed":    failed,
		"conflicts": conflicts,
	})
}

// BroadcastConflictDetected notifies clients of a new conflict.
func (h *WSHub) BroadcastConflictDetected(entityID string, localRevision, remoteRevision int) {
	h.Broadcast(EventSyncConflictDetected, map[string]interface{}{
		"entity_id":       entityID,
		"local_revision":  localRevision,
		"remote_revision": remoteRevision,
	})
}

// BroadcastConnectivityChanged notifies clients of an online/offline
// transition.
func (h *WSHub) BroadcastConnectivityChanged(online bool) {
	h.Broadcast(EventConnectivityChanged, map[string]interface{}{
		"online": online,
	})
}

// HandleWS upgrades an HTTP request to a WebSocket connection.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	client := &WSClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump forwards hub messages to the client connection.
func (c *WSClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// readPump drains client messages; the channel is one-way, so
// anything received is discarded. Exit unregisters the client.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
