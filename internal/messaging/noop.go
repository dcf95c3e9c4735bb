package messaging

import (
	"context"

	"go.uber.org/zap"
)

// NoopProvider logs messages to zap instead of delivering them.
// Use in development or when no provider account is available.
type NoopProvider struct {
	logger *zap.Logger
}

// NewNoopProvider creates a NoopProvider backed by the given logger.
func NewNoopProvider(logger *zap.Logger) *NoopProvider {
	return &NoopProvider{logger: logger}
}

// Name implements Provider.
func (n *NoopProvider) Name() string { return "noop" }

// Send logs the message and reports it accepted.
func (n *NoopProvider) Send(_ context.Context, msg Message) (Outcome, error) {
	n.logger.Info("message (noop, not sent)",
		zap.String("channel", string(msg.Channel)),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return Outcome{Accepted: true, Status: "noop"}, nil
}
