// Package console streams turn lifecycle events to staff over a websocket so
// they can watch conversations and pick up booking hand-offs.
package console

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/messenger-concierge/internal/conversation"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
	"golang.org/x/net/websocket"
)

const clientBuffer = 64

// StateSource reports the senders that are not idle.
type StateSource interface {
	States() map[string]conversation.State
}

// OutboundMessage is what the console client receives.
type OutboundMessage struct {
	Type   string              `json:"type"` // "snapshot", "event", "pong"
	Event  *conversation.Event `json:"event,omitempty"`
	States map[string]string   `json:"states,omitempty"`
	At     string              `json:"at,omitempty"`
}

// InboundMessage is what the console client may send.
type InboundMessage struct {
	Type string `json:"type"` // "ping"
}

// Hub fans turn events out to every connected console. It implements
// conversation.Observer; Publish never blocks, slow clients drop events.
type Hub struct {
	states StateSource
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	conn *websocket.Conn
	send chan OutboundMessage
}

// NewHub creates a hub. states may be nil when no snapshot is available.
func NewHub(states StateSource, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		states:  states,
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// Publish implements conversation.Observer.
func (h *Hub) Publish(ev conversation.Event) {
	msg := OutboundMessage{Type: "event", Event: &ev}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("console: client too slow, event dropped", "client_id", id, "sender_id", ev.SenderID)
		}
	}
}

// Clients returns the number of connected consoles.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and streams events until the client
// disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(h.serve).ServeHTTP(w, r)
}

func (h *Hub) serve(conn *websocket.Conn) {
	id := uuid.New().String()
	c := &client{conn: conn, send: make(chan OutboundMessage, clientBuffer)}

	if err := websocket.JSON.Send(conn, h.snapshot()); err != nil {
		h.logger.Debug("console: snapshot send failed", "client_id", id, "error", err)
		return
	}

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	h.logger.Info("console: connection opened", "client_id", id)

	done := make(chan struct{})
	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		close(done)
		h.logger.Info("console: connection closed", "client_id", id)
	}()

	go h.writeLoop(id, c, done)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			return
		}
		if msg.Type == "ping" {
			select {
			case c.send <- OutboundMessage{Type: "pong", At: time.Now().UTC().Format(time.RFC3339)}:
			default:
			}
		}
	}
}

func (h *Hub) writeLoop(id string, c *client, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			if err := websocket.JSON.Send(c.conn, msg); err != nil {
				h.logger.Debug("console: write failed", "client_id", id, "error", err)
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) snapshot() OutboundMessage {
	msg := OutboundMessage{Type: "snapshot", States: map[string]string{}, At: time.Now().UTC().Format(time.RFC3339)}
	if h.states == nil {
		return msg
	}
	for sender, st := range h.states.States() {
		msg.States[sender] = st.String()
	}
	return msg
}
