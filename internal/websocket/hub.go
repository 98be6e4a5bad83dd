package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Event types pushed to dashboard clients.
const (
	EventInboundReceived = "inbound.received"
	EventDraftCreated    = "draft.created"
	EventDraftUpdated    = "draft.updated"
	EventDraftSent       = "draft.sent"
)

const writeTimeout = 5 * time.Second

// Event is the JSON payload of a push notification.
type Event struct {
	Type string    `json:"type"`
	ID   string    `json:"id"`
	At   time.Time `json:"at"`
}

// Notifier publishes store changes.
type Notifier interface {
	Publish(eventType, id string)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Publish(string, string) {}

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
	// gorilla connections support one concurrent writer.
	writeMu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages the dashboard's active WebSocket connections.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxClients int
	logger     *logrus.Logger
	now        func() time.Time
}

var _ Notifier = (*Hub)(nil)

// NewHub creates a Hub that accepts at most maxClients connections.
func NewHub(maxClients int, logger *logrus.Logger) *Hub {
	if maxClients <= 0 {
		maxClients = 50
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxClients: maxClients,
		logger:     logger,
		now:        time.Now,
	}
}

// Register adds a WebSocket connection.
// If the limit is reached, the new connection is closed and nil is returned.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= h.maxClients {
		h.logger.WithField("max_clients", h.maxClients).Warn("websocket: connection limit reached, closing new connection")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			// Zero deadline: best effort.
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	h.clients[client] = struct{}{}
	return client
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Broadcast writes msg to every active client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(msg); err != nil {
			h.logger.WithError(err).Warn("websocket: failed to write message, dropping client")
			go h.Unregister(client)
		}
	}
}

// Publish broadcasts an event about the record with the given id.
func (h *Hub) Publish(eventType, id string) {
	msg, err := json.Marshal(Event{Type: eventType, ID: id, At: h.now().UTC()})
	if err != nil {
		h.logger.WithError(err).Error("websocket: failed to encode event")
		return
	}
	h.Broadcast(msg)
}

// ActiveConnections returns the number of active WebSocket connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
