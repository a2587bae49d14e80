package websocket

import (
	"context"
	"sync"
)

// Message types pushed to run watchers.
const (
	TypeTestResult   = "test_result"
	TypeRunCompleted = "run_completed"
	TypeAsyncResult  = "async_result"
)

// Hub maintains active WebSocket connections and broadcasts messages per test run
type Hub struct {
	// Registered clients by testRunId
	clients map[string]map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// Message is one event of a test run
type Message struct {
	TestRunID string      `json:"testRunId"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for runID, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, runID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.testRunID] == nil {
				h.clients[client.testRunID] = make(map[*Client]bool)
			}
			h.clients[client.testRunID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[message.TestRunID] {
				select {
				case client.send <- message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.testRunID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.testRunID)
	}
}

// Broadcast queues a message for every client watching testRunID. It drops the
// message rather than block when the queue is full.
func (h *Hub) Broadcast(testRunID string, msgType string, payload interface{}) {
	select {
	case h.broadcast <- &Message{TestRunID: testRunID, Type: msgType, Payload: payload}:
	default:
	}
}

// Watchers reports how many clients follow testRunID.
func (h *Hub) Watchers(testRunID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[testRunID])
}

// Register registers a new client connection
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister unregisters a client connection
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
