package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Kind classifies a failed send.
type Kind string

const (
	KindNone          Kind = ""
	KindConfiguration Kind = "configuration"
	KindTransport     Kind = "transport"
	KindRejected      Kind = "rejected"
)

// Result is the outcome of a single gateway send. It is never nil and a send
// never panics into the caller.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Debug   any    `json:"debug,omitempty"`
}

// Outcome returns a metrics-friendly label for the result.
func (r Result) Outcome() string {
	if r.Success {
		return "delivered"
	}
	if r.Kind == KindNone {
		return "failed"
	}
	return string(r.Kind)
}

// Sender is the subset of the gateway that orchestrators depend on.
type Sender interface {
	SendSMS(ctx context.Context, to, body string) Result
	SendEmail(ctx context.Context, to, subject, body string) Result
}

// MetricsRecorder is an optional callback invoked once per send.
type MetricsRecorder func(channel Channel, result Result)

// Gateway routes messages to the provider configured for each channel and
// converts every provider failure into a Result.
type Gateway struct {
	sms          Provider
	email        Provider
	smsMaxLength int
	onMetrics    MetricsRecorder
	logger       *zap.Logger
}

// NewGateway creates a Gateway. smsMaxLength <= 0 disables truncation.
func NewGateway(sms, email Provider, smsMaxLength int, logger *zap.Logger) *Gateway {
	return &Gateway{
		sms:          sms,
		email:        email,
		smsMaxLength: smsMaxLength,
		logger:       logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (g *Gateway) SetMetricsRecorder(fn MetricsRecorder) {
	g.onMetrics = fn
}

// SendSMS normalizes the destination, truncates the body to the channel
// limit, and sends it.
func (g *Gateway) SendSMS(ctx context.Context, to, body string) Result {
	dest := NormalizePhone(to)
	if dest == "" {
		return g.finish(ChannelSMS, dest, Result{Error: "destination phone number is empty", Kind: KindRejected})
	}
	msg := Message{Channel: ChannelSMS, To: dest, Body: truncate(body, g.smsMaxLength)}
	return g.finish(ChannelSMS, dest, g.send(ctx, g.sms, msg))
}

// SendEmail sends a plain-text email.
func (g *Gateway) SendEmail(ctx context.Context, to, subject, body string) Result {
	dest := strings.TrimSpace(to)
	if dest == "" {
		return g.finish(ChannelEmail, dest, Result{Error: "recipient email address is empty", Kind: KindRejected})
	}
	msg := Message{Channel: ChannelEmail, To: dest, Subject: subject, Body: body}
	return g.finish(ChannelEmail, dest, g.send(ctx, g.email, msg))
}

func (g *Gateway) send(ctx context.Context, p Provider, msg Message) (res Result) {
	if p == nil {
		return Result{Error: fmt.Sprintf("no %s provider configured", msg.Channel), Kind: KindConfiguration}
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{Error: fmt.Sprintf("%s provider panic: %v", p.Name(), r), Kind: KindTransport}
		}
	}()

	out, err := p.Send(ctx, msg)
	if err != nil {
		kind := KindTransport
		if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrUnsupportedChannel) {
			kind = KindConfiguration
		}
		return Result{Error: err.Error(), Kind: kind, Debug: out.Debug}
	}
	if !out.Accepted {
		reason := out.Reason
		if reason == "" {
			reason = out.Status
		}
		if reason == "" {
			reason = fmt.Sprintf("%s rejected by %s", msg.Channel, p.Name())
		}
		return Result{Error: reason, Kind: KindRejected, Debug: out.Debug}
	}
	return Result{Success: true, Debug: out.Debug}
}

func (g *Gateway) finish(ch Channel, dest string, res Result) Result {
	if res.Success {
		g.logger.Info("message sent", zap.String("channel", string(ch)), zap.String("to", dest))
	} else {
		g.logger.Warn("message failed",
			zap.String("channel", string(ch)),
			zap.String("to", dest),
			zap.String("kind", string(res.Kind)),
			zap.String("error", res.Error),
		)
	}
	if g.onMetrics != nil {
		g.onMetrics(ch, res)
	}
	return res
}

// NormalizePhone strips whitespace, dashes and parentheses from a phone
// number. A leading plus sign and digits are kept as-is.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, phone)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
