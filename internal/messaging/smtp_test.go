package messaging

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/config"
)

// ── Stubs ────────────────────────────────────────────────────────────────

// fakeRelay accepts one plain SMTP session and records the envelope and data.
type fakeRelay struct {
	addr string
	done chan struct{}
	from string
	rcpt []string
	data string
}

func startFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	r := &fakeRelay{addr: ln.Addr().String(), done: make(chan struct{})}
	go func() {
		defer close(r.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		tp.PrintfLine("220 localhost ESMTP") //nolint:errcheck
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch verb {
			case "EHLO", "HELO":
				tp.PrintfLine("250 localhost") //nolint:errcheck
			case "MAIL":
				r.from = line
				tp.PrintfLine("250 OK") //nolint:errcheck
			case "RCPT":
				r.rcpt = append(r.rcpt, line)
				tp.PrintfLine("250 OK") //nolint:errcheck
			case "DATA":
				tp.PrintfLine("354 go ahead") //nolint:errcheck
				b, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				r.data = string(b)
				tp.PrintfLine("250 queued") //nolint:errcheck
			case "QUIT":
				tp.PrintfLine("221 bye") //nolint:errcheck
				return
			default:
				tp.PrintfLine("250 OK") //nolint:errcheck
			}
		}
	}()
	return r
}

func (r *fakeRelay) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, p, err := net.SplitHostPort(r.addr)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(p)
	return host, port
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestSMTPProvider_RefusesBeforeDialing(t *testing.T) {
	email := Message{Channel: ChannelEmail, To: "jane@example.com", Subject: "s", Body: "b"}
	configured := config.SMTPConfig{Host: "127.0.0.1", Port: 1, FromAddress: "broker@example.com"}

	tests := []struct {
		name string
		cfg  config.SMTPConfig
		msg  Message
		want error
	}{
		{"sms channel", configured, Message{Channel: ChannelSMS, To: "+15551234567", Body: "b"}, ErrUnsupportedChannel},
		{"missing host", config.SMTPConfig{Port: 587, FromAddress: "broker@example.com"}, email, ErrNotConfigured},
		{"missing from address", config.SMTPConfig{Host: "smtp.example.com", Port: 587}, email, ErrNotConfigured},
		{"unconfigured sms still unsupported", config.SMTPConfig{}, Message{Channel: ChannelSMS, To: "1", Body: "b"}, ErrUnsupportedChannel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewSMTPProvider(tt.cfg).Send(context.Background(), tt.msg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if out.Accepted {
				t.Error("outcome accepted on a refused send")
			}
		})
	}
}

func TestSMTPProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewSMTPProvider(config.SMTPConfig{Host: "127.0.0.1", Port: 1, FromAddress: "broker@example.com"})
	if _, err := p.Send(ctx, Message{Channel: ChannelEmail, To: "a@b.com"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSMTPProvider_ConfigurationErrorsClassifiedByGateway(t *testing.T) {
	g := NewGateway(nil, NewSMTPProvider(config.SMTPConfig{}), 612, zap.NewNop())
	res := g.SendEmail(context.Background(), "jane@example.com", "s", "b")
	if res.Success || res.Kind != KindConfiguration {
		t.Errorf("result = %+v, want a configuration failure", res)
	}

	g = NewGateway(NewSMTPProvider(config.SMTPConfig{Host: "h", FromAddress: "f@x"}), nil, 612, zap.NewNop())
	res = g.SendSMS(context.Background(), "+15551234567", "hello")
	if res.Success || res.Kind != KindConfiguration {
		t.Errorf("sms via smtp result = %+v, want a configuration failure", res)
	}
}

func TestSMTPProvider_SendsThroughRelay(t *testing.T) {
	relay := startFakeRelay(t)
	host, port := relay.hostPort(t)

	p := NewSMTPProvider(config.SMTPConfig{Host: host, Port: port, FromAddress: "broker@example.com"})
	out, err := p.Send(context.Background(), Message{
		Channel: ChannelEmail,
		To:      "jane@example.com",
		Subject: "Document received",
		Body:    "Jane Doe uploaded Pay Stub.",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !out.Accepted || out.Status != "queued" {
		t.Errorf("outcome = %+v", out)
	}
	<-relay.done

	if !strings.Contains(relay.from, "<broker@example.com>") {
		t.Errorf("MAIL line = %q", relay.from)
	}
	if len(relay.rcpt) != 1 || !strings.Contains(relay.rcpt[0], "<jane@example.com>") {
		t.Errorf("RCPT lines = %v", relay.rcpt)
	}
	for _, want := range []string{"Subject: Document received", "To: jane@example.com", "Content-Type: text/plain; charset=UTF-8", "Jane Doe uploaded Pay Stub."} {
		if !strings.Contains(relay.data, want) {
			t.Errorf("data missing %q:\n%s", want, relay.data)
		}
	}
}

func TestSMTPProvider_RelayDownIsTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	g := NewGateway(nil, NewSMTPProvider(config.SMTPConfig{Host: "127.0.0.1", Port: addr.Port, FromAddress: "f@example.com"}), 612, zap.NewNop())
	res := g.SendEmail(context.Background(), "jane@example.com", "s", "b")
	if res.Success || res.Kind != KindTransport {
		t.Errorf("result = %+v, want a transport failure", res)
	}
}
