package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jmerrifield20/docchaser/internal/config"
)

const clickSendAccepted = "SUCCESS"

// ClickSend sends SMS and email through the ClickSend REST API (v3).
type ClickSend struct {
	cfg        config.ClickSendConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClickSend creates a ClickSend provider. Outbound calls are throttled to
// cfg.RateLimitRPS (unlimited when zero).
func NewClickSend(cfg config.ClickSendConfig, logger *zap.Logger) *ClickSend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://rest.clicksend.com/v3"
	}
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	return &ClickSend{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// Name implements Provider.
func (c *ClickSend) Name() string { return "clicksend" }

// Send implements Provider.
func (c *ClickSend) Send(ctx context.Context, msg Message) (Outcome, error) {
	switch msg.Channel {
	case ChannelSMS:
		return c.sendSMS(ctx, msg)
	case ChannelEmail:
		return c.sendEmail(ctx, msg)
	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnsupportedChannel, msg.Channel)
	}
}

type clickSendSMS struct {
	Messages    []clickSendSMSMessage `json:"messages"`
	ShortenURLs bool                  `json:"shorten_urls"`
}

type clickSendSMSMessage struct {
	To     string `json:"to"`
	Body   string `json:"body"`
	Source string `json:"source"`
}

type clickSendEmail struct {
	To      []clickSendRecipient `json:"to"`
	From    clickSendFrom        `json:"from"`
	Subject string               `json:"subject"`
	Body    string               `json:"body"`
}

type clickSendRecipient struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type clickSendFrom struct {
	EmailAddressID int    `json:"email_address_id"`
	Name           string `json:"name"`
}

type clickSendResponse struct {
	ResponseCode string `json:"response_code"`
	ResponseMsg  string `json:"response_msg"`
	Data         struct {
		Messages []struct {
			Status    string `json:"status"`
			MessageID string `json:"message_id"`
		} `json:"messages"`
	} `json:"data"`
}

func (c *ClickSend) sendSMS(ctx context.Context, msg Message) (Outcome, error) {
	if err := c.checkCredentials(); err != nil {
		return Outcome{}, err
	}
	source := c.cfg.Source
	if source == "" {
		source = "DocChaser"
	}
	payload := clickSendSMS{
		Messages:    []clickSendSMSMessage{{To: msg.To, Body: msg.Body, Source: source}},
		ShortenURLs: c.cfg.ShortenURLs,
	}

	status, resp, raw, err := c.post(ctx, "/sms/send", payload)
	if err != nil {
		return Outcome{Debug: raw}, err
	}
	if status < 200 || status >= 300 {
		return Outcome{Status: http.StatusText(status), Reason: orDefault(resp.ResponseMsg, "SMS failed"), Debug: raw}, nil
	}
	if len(resp.Data.Messages) == 0 {
		return Outcome{Reason: "SMS failed", Debug: raw}, nil
	}
	first := resp.Data.Messages[0]
	if first.Status != clickSendAccepted {
		return Outcome{Status: first.Status, Reason: orDefault(first.Status, "SMS failed"), Debug: raw}, nil
	}
	return Outcome{Accepted: true, Status: first.Status, Debug: raw}, nil
}

func (c *ClickSend) sendEmail(ctx context.Context, msg Message) (Outcome, error) {
	addressID, err := c.emailAddressID()
	if err != nil {
		return Outcome{}, err
	}
	if err := c.checkCredentials(); err != nil {
		return Outcome{}, err
	}
	fromName := c.cfg.FromName
	if fromName == "" {
		fromName = "Smart Doc Chaser"
	}
	payload := clickSendEmail{
		To:      []clickSendRecipient{{Email: msg.To, Name: localPart(msg.To)}},
		From:    clickSendFrom{EmailAddressID: addressID, Name: fromName},
		Subject: msg.Subject,
		Body:    msg.Body,
	}

	status, resp, raw, err := c.post(ctx, "/email/send", payload)
	if err != nil {
		return Outcome{Debug: raw}, err
	}
	if status < 200 || status >= 300 {
		return Outcome{Status: http.StatusText(status), Reason: orDefault(resp.ResponseMsg, "Email failed"), Debug: raw}, nil
	}
	return Outcome{Accepted: true, Status: resp.ResponseCode, Debug: raw}, nil
}

func (c *ClickSend) post(ctx context.Context, path string, payload any) (int, clickSendResponse, map[string]any, error) {
	var resp clickSendResponse

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, resp, nil, fmt.Errorf("clicksend rate limit: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, resp, nil, fmt.Errorf("marshal clicksend request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return 0, resp, nil, fmt.Errorf("build clicksend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.APIKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, resp, nil, fmt.Errorf("clicksend %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return httpResp.StatusCode, resp, nil, fmt.Errorf("read clicksend response: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return httpResp.StatusCode, resp, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return httpResp.StatusCode, resp, raw, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	c.logger.Debug("clicksend response",
		zap.String("path", path),
		zap.Int("status", httpResp.StatusCode),
		zap.String("response_code", resp.ResponseCode),
	)
	return httpResp.StatusCode, resp, raw, nil
}

func (c *ClickSend) checkCredentials() error {
	if c.cfg.Username == "" || c.cfg.APIKey == "" {
		return fmt.Errorf("%w: clicksend username and api key are required", ErrNotConfigured)
	}
	return nil
}

// emailAddressID parses the configured sender id. Trailing text after the
// leading digits is ignored, so "32592 # shared inbox" resolves to 32592.
func (c *ClickSend) emailAddressID() (int, error) {
	raw := strings.TrimSpace(c.cfg.EmailAddressID)
	if raw == "" {
		return 0, fmt.Errorf("%w: clicksend email_address_id is not set", ErrNotConfigured)
	}
	end := 0
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	id, err := strconv.Atoi(raw[:end])
	if err != nil {
		return 0, fmt.Errorf("%w: clicksend email_address_id must be numeric, got %q", ErrNotConfigured, raw)
	}
	return id, nil
}

func localPart(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
