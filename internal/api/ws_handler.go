package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	ws "github.com/nrpatel890/email-agent/internal/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler handles the /api/ws endpoint for dashboard event updates.
type WebSocketHandler struct {
	hub    *ws.Hub
	logger *logrus.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(hub *ws.Hub, logger *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard may be served from another origin during development.
		return true
	},
}

// Handle upgrades the connection and registers it with the Hub.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocketHandler: failed to upgrade connection")
		return
	}

	client := h.hub.Register(conn)
	if client == nil {
		h.logger.Warn("WebSocketHandler: connection rejected (max connections exceeded)")
		return
	}

	h.logger.WithField("remote", r.RemoteAddr).Debug("WebSocketHandler: connection established")

	go h.readLoop(client)
}

// readLoop drains client messages until the connection closes, then unregisters the client.
func (h *WebSocketHandler) readLoop(client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(client)
}
