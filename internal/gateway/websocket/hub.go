package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
)

// Hub fans engine events out to websocket clients. It plugs into the event
// bus as a sink, so delivery order matches publish order per execution.
type Hub struct {
	clients    map[*Client]bool
	execConns  map[uuid.UUID]map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		execConns:  make(map[uuid.UUID]map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debug().Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for execID := range client.subscriptions {
					h.removeSubscription(execID, client)
				}
				close(client.Send)
			}
			h.mu.Unlock()
			log.Debug().Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				client.trySend(message)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe narrows a client to one execution's events. A client with no
// subscriptions receives everything.
func (h *Hub) Subscribe(client *Client, executionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.execConns[executionID]; !ok {
		h.execConns[executionID] = make(map[*Client]bool)
	}
	h.execConns[executionID][client] = true
	client.subscriptions[executionID] = true
}

func (h *Hub) Unsubscribe(client *Client, executionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSubscription(executionID, client)
	delete(client.subscriptions, executionID)
}

// Deliver satisfies the event bus sink interface.
func (h *Hub) Deliver(event events.Event) {
	data, err := event.Encode()
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode event for websocket delivery")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if len(client.subscriptions) == 0 || client.subscriptions[event.ExecutionID] {
			client.trySend(data)
		}
	}
}

// removeSubscription must be called with the lock held.
func (h *Hub) removeSubscription(executionID uuid.UUID, client *Client) {
	if conns, ok := h.execConns[executionID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.execConns, executionID)
		}
	}
}
