// Package requests owns document requests: the record a broker creates to
// ask a client for one document, its persistence, and the create, upload,
// and tracker flows around it.
package requests

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a document request. The only transitions
// are pending→completed and pending→expired.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// DocumentRequest is one document ask tracked through its lifecycle.
type DocumentRequest struct {
	ID               uuid.UUID  `json:"id"`
	BrokerID         *uuid.UUID `json:"broker_id,omitempty"`
	ClientName       string     `json:"client_name"`
	ClientPhone      string     `json:"client_phone"`
	ClientEmail      *string    `json:"client_email,omitempty"`
	DocumentType     string     `json:"document_type"`
	CreatedAt        time.Time  `json:"created_at"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	Status           Status     `json:"status"`
	UploadToken      string     `json:"upload_token"`
	UploadLink       *string    `json:"upload_link,omitempty"`
	FileURL          *string    `json:"file_url,omitempty"`
	UploadedAt       *time.Time `json:"uploaded_at,omitempty"`
	LastReminderAt   *time.Time `json:"last_reminder_at,omitempty"`
	RemindersStopped bool       `json:"reminders_stopped"`
}

// Link returns the cached upload link, or derives one from the token.
func (r *DocumentRequest) Link(baseURL string) string {
	if r.UploadLink != nil && *r.UploadLink != "" {
		return *r.UploadLink
	}
	return UploadLink(baseURL, r.UploadToken)
}

// Email returns the client email address, or "" when none was given.
func (r *DocumentRequest) Email() string {
	if r.ClientEmail == nil {
		return ""
	}
	return *r.ClientEmail
}

// UploadLink builds the client-facing upload URL for a token.
func UploadLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/upload/" + token
}

// DocumentTypes is the list of commonly requested documents offered to
// brokers. Requests may use any non-empty document type.
var DocumentTypes = []string{
	"Proof of Income",
	"ID / Driver's License",
	"Social Security Card",
	"Proof of Address",
	"Immigration Documents",
	"Employer Coverage Letter",
	"SEP Documentation",
	"Tax Return",
	"Pay Stub",
	"Bank Statement",
	"Other",
}

var phonePattern = regexp.MustCompile(`^[\d\s\-\+\(\)]{10,}$`)

// CreateRequest is the payload for creating a document request.
type CreateRequest struct {
	ClientName   string     `json:"client_name"`
	ClientPhone  string     `json:"client_phone"`
	ClientEmail  string     `json:"client_email"`
	DocumentType string     `json:"document_type"`
	Deadline     *time.Time `json:"deadline"`
}

// Normalize trims whitespace from every text field.
func (c *CreateRequest) Normalize() {
	c.ClientName = strings.TrimSpace(c.ClientName)
	c.ClientPhone = strings.TrimSpace(c.ClientPhone)
	c.ClientEmail = strings.TrimSpace(c.ClientEmail)
	c.DocumentType = strings.TrimSpace(c.DocumentType)
}

// Validate checks required fields and formats. Call Normalize first.
func (c *CreateRequest) Validate() error {
	if c.ClientName == "" {
		return &ErrValidation{Msg: "client_name is required"}
	}
	if c.ClientPhone == "" {
		return &ErrValidation{Msg: "client_phone is required"}
	}
	if !phonePattern.MatchString(c.ClientPhone) {
		return &ErrValidation{Msg: "please enter a valid phone number"}
	}
	if c.ClientEmail != "" {
		if _, err := mail.ParseAddress(c.ClientEmail); err != nil {
			return &ErrValidation{Msg: "client_email is not a valid email address"}
		}
	}
	if c.DocumentType == "" {
		return &ErrValidation{Msg: "document_type is required"}
	}
	return nil
}

// ErrValidation is returned when the caller supplies invalid input.
// Handlers convert it to HTTP 400.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }
