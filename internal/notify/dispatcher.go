// Package notify sends the two immediate notifications of the workflow: the
// client's upload request when a request is created, and the broker's
// completion notice when a document arrives. It never touches the request
// store; callers own any state change around a notification.
package notify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/config"
	"github.com/jmerrifield20/docchaser/internal/messaging"
)

// ErrBrokerNotConfigured is returned when neither a broker phone nor a
// broker email is configured.
var ErrBrokerNotConfigured = errors.New("no broker phone or email configured")

// ErrValidation is returned when a notice is missing required fields.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// Status summarizes delivery across channels.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// ChannelResult reports one channel. Error is nil when the channel succeeded
// or was not attempted.
type ChannelResult struct {
	Sent  bool           `json:"sent"`
	Error *string        `json:"error"`
	Kind  messaging.Kind `json:"kind,omitempty"`
	Debug any            `json:"debug,omitempty"`
}

// Results holds the per-channel outcomes.
type Results struct {
	SMS   ChannelResult `json:"sms"`
	Email ChannelResult `json:"email"`
}

// Report is the structured outcome of a notification.
type Report struct {
	Success bool    `json:"success"`
	Status  Status  `json:"status"`
	Results Results `json:"results"`
}

// ClientNotice describes a newly created request for the client.
type ClientNotice struct {
	ClientName   string `json:"client_name"`
	ClientPhone  string `json:"client_phone"`
	ClientEmail  string `json:"client_email"`
	DocumentType string `json:"document_type"`
	UploadLink   string `json:"upload_link"`
}

// Validate trims the notice and checks required fields.
func (n *ClientNotice) Validate() error {
	n.ClientName = strings.TrimSpace(n.ClientName)
	n.ClientPhone = strings.TrimSpace(n.ClientPhone)
	n.ClientEmail = strings.TrimSpace(n.ClientEmail)
	n.DocumentType = strings.TrimSpace(n.DocumentType)
	n.UploadLink = strings.TrimSpace(n.UploadLink)

	var missing []string
	if n.ClientName == "" {
		missing = append(missing, "client_name")
	}
	if n.ClientPhone == "" {
		missing = append(missing, "client_phone")
	}
	if n.DocumentType == "" {
		missing = append(missing, "document_type")
	}
	if n.UploadLink == "" {
		missing = append(missing, "upload_link")
	}
	if len(missing) > 0 {
		return &ErrValidation{Msg: "missing required fields: " + strings.Join(missing, ", ")}
	}
	return nil
}

// BrokerNotice describes a completed upload for the broker.
type BrokerNotice struct {
	ClientName   string `json:"client_name"`
	DocumentType string `json:"document_type"`
}

// Validate trims the notice and checks required fields.
func (n *BrokerNotice) Validate() error {
	n.ClientName = strings.TrimSpace(n.ClientName)
	n.DocumentType = strings.TrimSpace(n.DocumentType)
	if n.ClientName == "" || n.DocumentType == "" {
		return &ErrValidation{Msg: "client_name and document_type are required"}
	}
	return nil
}

// Dispatcher sends immediate notifications through the message gateway.
type Dispatcher struct {
	gateway    messaging.Sender
	broker     config.BrokerConfig
	trackerURL string
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(gateway messaging.Sender, broker config.BrokerConfig, trackerURL string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		gateway:    gateway,
		broker:     broker,
		trackerURL: trackerURL,
		logger:     logger,
	}
}

// NotifyClientOfNewRequest texts the client the upload link and, when an
// address is given, emails it too. Success requires the SMS and, if
// attempted, the email.
func (d *Dispatcher) NotifyClientOfNewRequest(ctx context.Context, n ClientNotice) (*Report, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	var rep Report
	rep.Results.SMS = channelResult(d.gateway.SendSMS(ctx, n.ClientPhone,
		messaging.ClientRequestSMS(n.ClientName, n.DocumentType, n.UploadLink)))

	attempted, delivered := 1, boolToInt(rep.Results.SMS.Sent)
	if n.ClientEmail != "" {
		email := messaging.ClientRequestEmail(n.ClientName, n.DocumentType, n.UploadLink)
		rep.Results.Email = channelResult(d.gateway.SendEmail(ctx, n.ClientEmail, email.Subject, email.Body))
		attempted++
		delivered += boolToInt(rep.Results.Email.Sent)
	}

	rep.Success = delivered == attempted
	rep.Status = summarize(attempted, delivered)

	d.logger.Info("client notified",
		zap.String("document_type", n.DocumentType),
		zap.String("status", string(rep.Status)),
	)
	return &rep, nil
}

// NotifyBrokerOfCompletion tells the broker a document arrived on every
// configured channel. Success requires any one channel to succeed.
func (d *Dispatcher) NotifyBrokerOfCompletion(ctx context.Context, n BrokerNotice) (*Report, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if !d.broker.HasChannel() {
		return nil, ErrBrokerNotConfigured
	}

	var rep Report
	attempted, delivered := 0, 0
	if phone := strings.TrimSpace(d.broker.Phone); phone != "" {
		rep.Results.SMS = channelResult(d.gateway.SendSMS(ctx, phone,
			messaging.BrokerCompletionSMS(n.ClientName, n.DocumentType)))
		attempted++
		delivered += boolToInt(rep.Results.SMS.Sent)
	}
	if addr := strings.TrimSpace(d.broker.Email); addr != "" {
		email := messaging.BrokerCompletionEmail(n.ClientName, n.DocumentType, d.trackerURL)
		rep.Results.Email = channelResult(d.gateway.SendEmail(ctx, addr, email.Subject, email.Body))
		attempted++
		delivered += boolToInt(rep.Results.Email.Sent)
	}

	rep.Success = delivered > 0
	rep.Status = summarize(attempted, delivered)

	d.logger.Info("broker notified",
		zap.String("document_type", n.DocumentType),
		zap.String("status", string(rep.Status)),
	)
	return &rep, nil
}

// TestGateway sends the diagnostic SMS and/or email. Empty arguments skip
// that channel.
func (d *Dispatcher) TestGateway(ctx context.Context, phone, email string) map[string]messaging.Result {
	out := make(map[string]messaging.Result, 2)
	if phone != "" {
		out["sms"] = d.gateway.SendSMS(ctx, phone, messaging.TestSMSBody)
	}
	if email != "" {
		out["email"] = d.gateway.SendEmail(ctx, email, messaging.TestEmailSubject, messaging.TestEmailBody)
	}
	return out
}

func channelResult(r messaging.Result) ChannelResult {
	cr := ChannelResult{Sent: r.Success, Kind: r.Kind, Debug: r.Debug}
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "send failed"
		}
		cr.Error = &msg
	}
	return cr
}

func summarize(attempted, delivered int) Status {
	switch {
	case delivered == 0:
		return StatusFailed
	case delivered < attempted:
		return StatusPartial
	default:
		return StatusDelivered
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
