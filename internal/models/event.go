package models

import "time"

// Event types emitted by the fan-out layer
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
	EventPing    = "ping"
)

// Event is a single fan-out notification. Context carries either the raw
// context or the subscriber's projected view. Ping events carry no payload
// and exist only to keep stream connections alive.
type Event struct {
	Type         string         `json:"type"`
	BreadcrumbID string         `json:"breadcrumb_id,omitempty"`
	Title        string         `json:"title,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	SchemaName   string         `json:"schema_name,omitempty"`
	Version      int            `json:"version,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// NewPing returns a heartbeat event
func NewPing() Event {
	return Event{Type: EventPing, Timestamp: time.Now().UTC()}
}
