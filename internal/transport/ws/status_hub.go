// Package ws pushes license validation status snapshots to connected
// UI collaborators so they can track license state without polling.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"xtcli/internal/license"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 8
)

// StatusHub broadcasts validation status snapshots to WebSocket
// clients. It implements license.Notifier.
type StatusHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *license.ValidationStatus
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewStatusHub creates a hub that accepts connections from the given
// origins. An empty list allows same-host connections only.
func NewStatusHub(allowedOrigins []string, logger *slog.Logger) *StatusHub {
	hub := &StatusHub{
		logger:  logger.With(slog.String("component", "status_hub")),
		clients: make(map[*client]struct{}),
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return hub
}

// NotifyStatus implements license.Notifier: every state transition is
// pushed to all connected clients.
func (h *StatusHub) NotifyStatus(status license.ValidationStatus) {
	payload, err := json.Marshal(status)
	if err != nil {
		h.logger.Error("failed to marshal status", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.last = &status
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; drop it rather than block transitions.
			delete(h.clients, c)
			close(c.send)
		}
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams status snapshots.
// The latest snapshot, if any, is sent immediately on connect.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		if payload, err := json.Marshal(h.last); err == nil {
			c.send <- payload
		}
	}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// ClientCount returns the number of connected clients
func (h *StatusHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *StatusHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump discards client messages; the channel is push-only. It
// exists to process control frames and detect disconnects.
func (h *StatusHub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *StatusHub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
