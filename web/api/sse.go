package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Event is a pushed status update
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub fans status events out to all subscribed clients. SSE and WebSocket
// handlers each subscribe a channel.
type Hub struct {
	clients    map[chan Event]bool
	broadcast  chan Event
	register   chan chan Event
	unregister chan chan Event
	mu         sync.RWMutex
}

// NewHub creates a new event hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[chan Event]bool),
		broadcast:  make(chan Event, 16),
		register:   make(chan chan Event),
		unregister: make(chan chan Event),
	}
}

// Run pumps events until the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- event:
				default:
					// Slow clients are dropped rather than blocking the run.
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all clients
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
	}
}

// Subscribe registers a client channel
func (h *Hub) Subscribe() chan Event {
	client := make(chan Event, 8)
	h.register <- client
	return client
}

// Unsubscribe removes a client channel
func (h *Hub) Unsubscribe(client chan Event) {
	h.unregister <- client
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		client := s.hub.Subscribe()

		notify := r.Context().Done()
		go func() {
			<-notify
			s.hub.Unsubscribe(client)
		}()

		// New subscribers get the current snapshot immediately.
		s.writeSSE(w, flusher, Event{Type: "status", Data: s.source.Status()})

		for event := range client {
			s.writeSSE(w, flusher, event)
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, event Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
