// Package client provides the docchaser Go SDK for creating and tracking
// document requests and triggering reminder sweeps.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the server reports 404 for a lookup.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Is reports 404 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Request is a document request as returned by the server.
type Request struct {
	ID               string     `json:"id"`
	ClientName       string     `json:"client_name"`
	ClientPhone      string     `json:"client_phone"`
	ClientEmail      string     `json:"client_email,omitempty"`
	DocumentType     string     `json:"document_type"`
	CreatedAt        time.Time  `json:"created_at"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	Status           string     `json:"status"`
	UploadToken      string     `json:"upload_token"`
	UploadLink       string     `json:"upload_link,omitempty"`
	FileURL          string     `json:"file_url,omitempty"`
	UploadedAt       *time.Time `json:"uploaded_at,omitempty"`
	LastReminderAt   *time.Time `json:"last_reminder_at,omitempty"`
	RemindersStopped bool       `json:"reminders_stopped"`
}

// CreateRequestInput is the payload for CreateRequest.
type CreateRequestInput struct {
	ClientName   string     `json:"client_name"`
	ClientPhone  string     `json:"client_phone"`
	ClientEmail  string     `json:"client_email,omitempty"`
	DocumentType string     `json:"document_type"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

// ChannelResult reports one notification channel.
type ChannelResult struct {
	Sent  bool    `json:"sent"`
	Error *string `json:"error"`
	Kind  string  `json:"kind,omitempty"`
}

// NotificationReport is the structured outcome of a client or broker
// notification.
type NotificationReport struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Results struct {
		SMS   ChannelResult `json:"sms"`
		Email ChannelResult `json:"email"`
	} `json:"results"`
}

// CreateResult is returned by CreateRequest.
type CreateResult struct {
	Request           Request             `json:"request"`
	Notification      *NotificationReport `json:"notification,omitempty"`
	NotificationError string              `json:"notification_error,omitempty"`
}

// SweepResult summarizes a reminder sweep.
type SweepResult struct {
	Processed     int      `json:"processed"`
	RemindersSent int      `json:"reminders_sent"`
	Expired       int      `json:"expired"`
	Errors        []string `json:"errors"`
	Skipped       bool     `json:"skipped,omitempty"`
}

// SweepResponse is returned by RunReminders.
type SweepResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Results SweepResult `json:"results"`
}

// GatewayResult is the outcome of one diagnostic send.
type GatewayResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Client is the docchaser SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithBearerToken attaches the shared secret that guards the reminder and
// diagnostic routes.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a new Client for the server at baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("CRON_SECRET")),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// CreateRequest creates a document request and, when the server is
// configured to, notifies the client.
func (c *Client) CreateRequest(ctx context.Context, in CreateRequestInput) (*CreateResult, error) {
	var out CreateResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/requests", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRequests returns requests, pending first. An empty status lists all.
func (c *Client) ListRequests(ctx context.Context, status string) ([]Request, error) {
	path := "/api/v1/requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Requests []Request `json:"requests"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// GetRequest fetches one request by id.
func (c *Client) GetRequest(ctx context.Context, id string) (*Request, error) {
	var out Request
	if err := c.call(ctx, http.MethodGet, "/api/v1/requests/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopReminders excludes a pending request from future sweeps.
func (c *Client) StopReminders(ctx context.Context, id string) (*Request, error) {
	var out Request
	if err := c.call(ctx, http.MethodPost, "/api/v1/requests/"+url.PathEscape(id)+"/stop-reminders", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DocumentTypes returns the suggested document types.
func (c *Client) DocumentTypes(ctx context.Context) ([]string, error) {
	var out struct {
		DocumentTypes []string `json:"document_types"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/document-types", nil, &out); err != nil {
		return nil, err
	}
	return out.DocumentTypes, nil
}

// RunReminders triggers one reminder sweep and returns its summary.
func (c *Client) RunReminders(ctx context.Context) (*SweepResponse, error) {
	var out SweepResponse
	if err := c.call(ctx, http.MethodGet, "/reminders/run", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestGateway sends the diagnostic SMS and/or email. Empty arguments skip
// that channel.
func (c *Client) TestGateway(ctx context.Context, phone, email string) (map[string]GatewayResult, error) {
	q := url.Values{}
	if phone != "" {
		q.Set("phone", phone)
	}
	if email != "" {
		q.Set("email", email)
	}
	var out struct {
		Results map[string]GatewayResult `json:"results"`
	}
	if err := c.call(ctx, http.MethodGet, "/notifications/test?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// call encodes reqBody as JSON, executes the request, and decodes the
// response into respBody. Either may be nil.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts the "error" field of a JSON error body, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
