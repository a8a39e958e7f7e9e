package events

import "time"

// Event describes a document status update pushed to subscribers.
type Event struct {
	DocumentID string         `json:"document_id"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Message    string         `json:"message,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
