// Package events pushes settlement events to connected websocket clients in
// real time. Delivery here is best-effort; the webhook dispatcher is the
// durable channel.
package events

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/atmx/atmx/internal/metrics"
)

// Hub fans broadcast messages out to every connected websocket client.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a websocket broadcast hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log.With().Str("component", "events_hub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Broadcast encodes v as JSON and sends it to all connected clients. Clients
// whose send buffer is full are dropped rather than allowed to block
// settlement.
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode broadcast message")
		return
	}

	h.mu.RLock()
	var stalled []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.drop(c, websocket.StatusPolicyViolation, "client too slow")
	}
}

// HandleWS upgrades the request and streams broadcast messages until the
// client disconnects or the server shuts down.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks are the proxy's job
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.EventStreamClients.Set(float64(total))
	h.log.Info().Int("clients", total).Msg("Event stream client connected")

	ctx := r.Context()

	// Reads are discarded; the stream is one-way. A read error is the
	// disconnect signal.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				h.drop(c, websocket.StatusNormalClosure, "")
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				h.drop(c, websocket.StatusNormalClosure, "")
				return
			}
		case <-ctx.Done():
			h.drop(c, websocket.StatusGoingAway, "")
			return
		}
	}
}

// Close disconnects every client and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c, websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) drop(c *client, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}

	c.conn.Close(code, reason)
	metrics.EventStreamClients.Set(float64(total))
	h.log.Debug().Int("clients", total).Msg("Event stream client disconnected")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
