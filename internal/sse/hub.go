// Package sse implements the live queue feed. Clients subscribe either
// to a single faculty member's queue or to the global feed used by the
// admin dashboard; every queue mutation is broadcast as a JSON event.
package sse

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Client is one connected subscriber. Faculty is empty for global
// (dashboard) subscribers.
type Client struct {
	ID      string
	Channel chan []byte
	Faculty string
}

// Hub fans queue events out to subscribers. Registration goes through
// channels so the run loop owns all map mutations.
type Hub struct {
	globalClients  map[string]*Client
	facultyClients map[string]map[string]*Client
	mu             sync.RWMutex
	register       chan *Client
	unregister     chan *Client
	stop           chan struct{}
	stopOnce       sync.Once
}

// NewHub creates a Hub and starts its run loop. Call Stop to end the
// loop during shutdown.
func NewHub() *Hub {
	h := &Hub{
		globalClients:  make(map[string]*Client),
		facultyClients: make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		stop:           make(chan struct{}),
	}
	go h.run()
	return h
}

// Stop ends the run loop. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) run() {
	for {
		select {
		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			if client.Faculty == "" {
				h.globalClients[client.ID] = client
			} else {
				if h.facultyClients[client.Faculty] == nil {
					h.facultyClients[client.Faculty] = make(map[string]*Client)
				}
				h.facultyClients[client.Faculty][client.ID] = client
			}
			h.mu.Unlock()
			log.Printf("sse: client connected: %s (faculty: %q)", client.ID, client.Faculty)

		case client := <-h.unregister:
			h.mu.Lock()
			if client.Faculty == "" {
				if _, ok := h.globalClients[client.ID]; ok {
					delete(h.globalClients, client.ID)
					close(client.Channel)
				}
			} else {
				if clients, ok := h.facultyClients[client.Faculty]; ok {
					if _, ok := clients[client.ID]; ok {
						delete(clients, client.ID)
						close(client.Channel)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("sse: client disconnected: %s", client.ID)
		}
	}
}

func encodeEvent(eventType string, data interface{}) ([]byte, bool) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": data,
	})
	if err != nil {
		log.Printf("sse: marshal event failed: %v", err)
		return nil, false
	}
	return payload, true
}

func send(client *Client, payload []byte) {
	select {
	case client.Channel <- payload:
	default:
		log.Printf("sse: client buffer full: %s", client.ID)
	}
}

// BroadcastFaculty delivers an event to every subscriber of one
// faculty queue and to all global subscribers.
func (h *Hub) BroadcastFaculty(faculty, eventType string, data interface{}) {
	payload, ok := encodeEvent(eventType, data)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.facultyClients[faculty] {
		send(client, payload)
	}
	for _, client := range h.globalClients {
		send(client, payload)
	}
}

// BroadcastAll delivers an event to every subscriber, faculty-scoped
// and global alike. Used for the bulk cancellation.
func (h *Hub) BroadcastAll(eventType string, data interface{}) {
	payload, ok := encodeEvent(eventType, data)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.facultyClients {
		for _, client := range clients {
			send(client, payload)
		}
	}
	for _, client := range h.globalClients {
		send(client, payload)
	}
}

// ServeSSE streams events for one faculty queue (or the global feed
// when faculty is empty) until the request context is cancelled.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, faculty string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientID := fmt.Sprintf("%d-%s", time.Now().UnixNano(), faculty)
	client := &Client{
		ID:      clientID,
		Channel: make(chan []byte, 10),
		Faculty: faculty,
	}

	h.register <- client
	defer func() {
		h.unregister <- client
	}()

	fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":%q}\n\n", clientID)
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case data, ok := <-client.Channel:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// FacultyClientCount returns the number of subscribers for a faculty
// queue. Used by tests and diagnostics.
func (h *Hub) FacultyClientCount(faculty string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.facultyClients[faculty])
}

// GlobalClientCount returns the number of dashboard subscribers.
func (h *Hub) GlobalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.globalClients)
}
