package messaging

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/jmerrifield20/docchaser/internal/config"
)

// SMTPProvider delivers email through an SMTP relay. It does not handle SMS.
type SMTPProvider struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPProvider creates an SMTPProvider.
func NewSMTPProvider(cfg config.SMTPConfig) *SMTPProvider {
	return &SMTPProvider{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.FromAddress,
	}
}

// Name implements Provider.
func (s *SMTPProvider) Name() string { return "smtp" }

// Send implements Provider. A refused recipient or failed handshake is
// reported as a transport error since SMTP has no per-message status.
func (s *SMTPProvider) Send(ctx context.Context, msg Message) (Outcome, error) {
	if msg.Channel != ChannelEmail {
		return Outcome{}, fmt.Errorf("%w: smtp cannot send %s", ErrUnsupportedChannel, msg.Channel)
	}
	if s.host == "" || s.from == "" {
		return Outcome{}, fmt.Errorf("%w: smtp host and from address are required", ErrNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	body := strings.Join([]string{
		"From: " + s.from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		msg.Body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	// Port 465 uses implicit TLS; 587 uses STARTTLS (smtp.SendMail handles this).
	var err error
	if s.port == 465 {
		err = s.sendImplicitTLS(addr, auth, msg.To, []byte(body))
	} else {
		err = smtp.SendMail(addr, auth, s.from, []string{msg.To}, []byte(body))
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Accepted: true, Status: "queued"}, nil
}

func (s *SMTPProvider) sendImplicitTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	host, _, _ := net.SplitHostPort(addr)
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	return wc.Close()
}
