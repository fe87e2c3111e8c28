// Package ws is the collector's live feed. Ingested events, state changes
// and heartbeats are fanned out as JSON text frames to every connected
// WebSocket client; slow or dead clients are dropped.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 3 * time.Second
	readWait  = 60 * time.Second
)

// Hub owns the client set. Register, unregister and broadcast all go
// through channels served by Run, so the set is only touched by one
// goroutine.
type Hub struct {
	// PingInterval is the keepalive period. Set before Run.
	PingInterval time.Duration

	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{}
	upgrader   websocket.Upgrader

	count   atomic.Int64
	dropped atomic.Int64
}

// NewHub allocates a hub. Call Run in a goroutine to start serving it.
func NewHub() *Hub {
	return &Hub{
		PingInterval: 20 * time.Second,
		clients:      make(map[*websocket.Conn]struct{}),
		register:     make(chan *websocket.Conn, 16),
		unregister:   make(chan *websocket.Conn, 16),
		broadcast:    make(chan []byte, 256),
		done:         make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
// Connections that arrive afterwards are closed by the handler. Run must
// only be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	ping := time.NewTicker(h.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.drop(c)
				}
			}

		case <-ping.C:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	delete(h.clients, c)
	h.count.Store(int64(len(h.clients)))
	_ = c.Close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Dropped returns how many broadcasts were discarded because the queue was
// full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Handler upgrades requests to WebSocket connections and registers them.
// Clients only listen; anything they send is read and discarded so pongs
// and close frames are processed.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			return
		}
		select {
		case h.register <- conn:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go func() {
			finished := make(chan struct{})
			defer func() {
				close(finished)
				select {
				case h.unregister <- conn:
				case <-h.done:
				}
				_ = conn.Close()
			}()
			// A connection still queued for registration when Run stops
			// is never seen by Run.
			go func() {
				select {
				case <-h.done:
					_ = conn.Close()
				case <-finished:
				}
			}()

			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			conn.SetPongHandler(func(string) error {
				_ = conn.SetReadDeadline(time.Now().Add(readWait))
				return nil
			})

			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// BroadcastJSON marshals v and queues it for every client. When the queue
// is full the message is dropped rather than blocking the caller.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.dropped.Add(1)
	}
}
