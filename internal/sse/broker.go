// Package sse streams re-conversion lifecycle events to preview clients
// over Server-Sent Events. Watch mode publishes run.started when a rebuild
// begins and run.finished when the vault is consistent again; a browser
// client reloads on the latter.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Event is one message on the stream. Data is JSON-encoded into the SSE
// data field.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Broker fans events out to every connected client. Subscribers get a
// buffered channel of pre-rendered frames; a subscriber that stops reading
// loses frames rather than stalling the publisher.
type Broker struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewBroker returns an empty broker ready for subscribers.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan []byte]struct{})}
}

// Subscribe registers a client and returns its frame channel. The channel
// is closed on Unsubscribe or Close; after Close it comes back already
// closed.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client. Publish and Subscribe become no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
	}
	b.clients = make(map[chan []byte]struct{})
}

// Publish renders the event once and offers it to every client without
// blocking.
func (b *Broker) Publish(event Event) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return
	}
	frame := fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event.Type, payload)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

// PublishRunStarted announces that a re-conversion has begun.
func (b *Broker) PublishRunStarted(runID string) {
	b.Publish(Event{Type: "run.started", Data: map[string]string{"run_id": runID}})
}

// PublishRunFinished announces a completed re-conversion.
func (b *Broker) PublishRunFinished(runID string, notesWritten, failures int) {
	b.Publish(Event{Type: "run.finished", Data: map[string]any{
		"run_id":        runID,
		"notes_written": notesWritten,
		"failures":      failures,
	}})
}

// ServeHTTP streams events to one client until it disconnects. Mounted at
// GET /api/events.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	// A dropped client only misses rebuild notices, so reconnect fast.
	_, _ = w.Write([]byte("retry: 2000\n\n"))
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-ch:
			if !open {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
