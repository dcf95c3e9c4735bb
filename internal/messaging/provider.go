// Package messaging delivers single transactional SMS and email messages
// through a pluggable provider and builds the message text sent to clients
// and the broker.
package messaging

import (
	"context"
	"errors"
)

// Channel identifies the delivery medium of a message.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Message is one outbound message to one recipient. Subject is ignored for SMS.
type Message struct {
	Channel Channel
	To      string
	Subject string
	Body    string
}

// Outcome is the provider's verdict on a message it was able to talk to the
// upstream API about.
type Outcome struct {
	Accepted bool
	// Status is the provider's per-message status, or the HTTP status text
	// when the provider rejected the whole call.
	Status string
	Reason string
	Debug  any
}

// Provider sends messages over a concrete transport. A non-nil error means
// the message never reached a verdict: either the provider is not
// configured (wrapping ErrNotConfigured) or the transport failed. A nil error
// with Outcome.Accepted false means the provider rejected the message.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (Outcome, error)
}

var (
	// ErrNotConfigured is returned when credentials or a sender identity are
	// missing. These failures are not retried.
	ErrNotConfigured = errors.New("messaging provider not configured")

	// ErrUnsupportedChannel is returned by providers asked to deliver on a
	// channel they do not implement.
	ErrUnsupportedChannel = errors.New("channel not supported by provider")

	// ErrMalformedResponse is returned when the provider answered with a body
	// that could not be decoded.
	ErrMalformedResponse = errors.New("malformed provider response")
)
