package events

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

// Hub fans document events out to connected websocket clients. A client may
// subscribe to a single document or to all documents.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]string // conn -> document ID filter ("" = all)
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]string),
	}
}

func (h *Hub) Register(c *websocket.Conn, documentID string) {
	h.mu.Lock()
	h.clients[c] = documentID
	h.mu.Unlock()

	logger.Info("WebSocket connection established",
		zap.String("document_id", documentID),
		zap.Int("clients", h.ClientCount()),
	)
}

func (h *Hub) Unregister(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	logger.Info("WebSocket connection closed")
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers an event to every client whose filter matches. Writes
// that fail drop the client.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c, filter := range h.clients {
		if filter == "" || filter == event.DocumentID {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.WriteJSON(event); err != nil {
			logger.Debug("Dropping websocket client after write failure", zap.Error(err))
			c.Close()
			h.Unregister(c)
		}
	}
}
