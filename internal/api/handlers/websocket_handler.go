package handlers

import (
	"github.com/gofiber/websocket/v2"

	"github.com/Ajay6601/docuflow-ai/internal/events"
)

type WebSocketHandler struct {
	hub *events.Hub
}

func NewWebSocketHandler(hub *events.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection registers the client for status events. A document_id
// query parameter narrows the stream to one document; without it the client
// receives every event. The read loop only exists to detect disconnects.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	documentID := c.Query("document_id")
	h.hub.Register(c, documentID)

	defer func() {
		h.hub.Unregister(c)
		c.Close()
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}
