// Package events publishes document request lifecycle events to outside
// systems. Publishing is fire-and-forget: a failing sink never affects the
// operation that emitted the event.
package events

import (
	"context"
	"time"
)

// Event types emitted by the service.
const (
	RequestCreated   = "request.created"
	RequestCompleted = "request.completed"
	RequestExpired   = "request.expired"
	ReminderSent     = "reminder.sent"
)

// Event is the envelope delivered to every sink.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// New stamps an event with the current time.
func New(eventType string, payload map[string]string) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload}
}

// Publisher delivers events. Implementations must not block the caller on
// network I/O.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]string)
}

// Multi fans an event out to several publishers.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, eventType string, payload map[string]string) {
	for _, p := range m {
		p.Publish(ctx, eventType, payload)
	}
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, map[string]string) {}
