package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

const channelName = "docuflow:events"

// Relay receives pipeline events on a buffered channel and fans them out to
// the websocket hub and a redis pub/sub channel. Emission never blocks the
// pipeline: if the buffer is full the event is dropped.
type Relay struct {
	rdb *redis.Client
	hub *Hub
	ch  chan Event
}

func NewRelay(rdb *redis.Client, hub *Hub) *Relay {
	return &Relay{
		rdb: rdb,
		hub: hub,
		ch:  make(chan Event, 256),
	}
}

func (r *Relay) Hub() *Hub { return r.hub }

// Emit queues an event for delivery. Safe to call from any goroutine.
func (r *Relay) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case r.ch <- event:
	default:
		logger.Warn("Event buffer full, dropping event",
			zap.String("document_id", event.DocumentID),
			zap.String("status", event.Status),
		)
	}
}

// Run drains the event channel until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-r.ch:
			r.deliver(ctx, event)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, event Event) {
	r.hub.Broadcast(event)

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	if err := r.rdb.Publish(ctx, channelName, payload).Err(); err != nil {
		logger.Warn("Failed to publish event",
			zap.String("document_id", event.DocumentID),
			zap.Error(err),
		)
	}
}
