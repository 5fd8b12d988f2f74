package diag

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ardupilot/remoteid-module/internal/core/armhistory"
	"github.com/ardupilot/remoteid-module/internal/models"
)

// WSMessageType identifies the payload carried by a WSMessage.
type WSMessageType string

const (
	WSMessageTypeRecordUpdate WSMessageType = "record_update"
	WSMessageTypeArmStatus    WSMessageType = "arm_status"
	WSMessageTypeError        WSMessageType = "error"
)

// WSMessage is the envelope broadcast to every connected client. Unlike
// the teacher's per-device message, there is exactly one Record per
// process, so there is no device_id to key on.
type WSMessage struct {
	Type WSMessageType   `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WSClient represents a single diagnostics WebSocket connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of connected diagnostics clients and broadcasts
// record/arm-status updates to all of them. There is no per-client
// subscription filtering: every client sees the one process-wide Record.
type Hub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub's main loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[diag] websocket client connected, total: %d", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("[diag] websocket client disconnected, total: %d", len(h.clients))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastRecord sends the current Record snapshot to every client.
func (h *Hub) BroadcastRecord(rec models.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[diag] failed to marshal record: %v", err)
		return
	}
	h.broadcastEnvelope(WSMessageTypeRecordUpdate, data)
}

// BroadcastArmStatus sends an arm-status transition to every client.
func (h *Hub) BroadcastArmStatus(ev armhistory.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[diag] failed to marshal arm status: %v", err)
		return
	}
	h.broadcastEnvelope(WSMessageTypeArmStatus, data)
}

func (h *Hub) broadcastEnvelope(kind WSMessageType, data json.RawMessage) {
	msg := WSMessage{Type: kind, Data: data}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[diag] failed to marshal message: %v", err)
		return
	}
	select {
	case h.broadcast <- msgBytes:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
