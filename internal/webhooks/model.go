package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID           uuid.UUID `json:"id"`
	URL          string    `json:"url"`
	EventType    string    `json:"event_type"`
	RequestID    string    `json:"request_id,omitempty"`
	StatusCode   int       `json:"status_code"`
	Attempt      int       `json:"attempt"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DeliveredAt  time.Time `json:"delivered_at"`
}
