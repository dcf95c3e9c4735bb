package requests

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/events"
	"github.com/jmerrifield20/docchaser/internal/notify"
	"github.com/jmerrifield20/docchaser/internal/storage"
)

var (
	// ErrAlreadyUploaded is returned when a token's request is completed.
	ErrAlreadyUploaded = errors.New("document has already been uploaded")

	// ErrRequestExpired is returned when a token's request passed its deadline.
	ErrRequestExpired = errors.New("upload request has expired")

	// ErrStorageNotConfigured is returned by Upload without a blob store.
	ErrStorageNotConfigured = errors.New("document storage not configured")
)

// Notifier sends the immediate client and broker notifications.
// *notify.Dispatcher satisfies this interface.
type Notifier interface {
	NotifyClientOfNewRequest(ctx context.Context, n notify.ClientNotice) (*notify.Report, error)
	NotifyBrokerOfCompletion(ctx context.Context, n notify.BrokerNotice) (*notify.Report, error)
}

// CreateResult is returned by Create.
type CreateResult struct {
	Request           *DocumentRequest `json:"request"`
	Notification      *notify.Report   `json:"notification,omitempty"`
	NotificationError string           `json:"notification_error,omitempty"`
}

// File is an uploaded document.
type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// UploadResult is returned by Upload.
type UploadResult struct {
	Request            *DocumentRequest `json:"request"`
	BrokerNotification *notify.Report   `json:"broker_notification,omitempty"`
}

// Service contains the broker- and client-facing request flows.
type Service struct {
	store          Store
	blobs          storage.BlobStore // nil = uploads rejected
	notifier       Notifier          // nil = no immediate notifications
	events         events.Publisher
	baseURL        string
	notifyOnCreate bool
	now            func() time.Time
	logger         *zap.Logger
}

// NewService creates a new request Service. baseURL is the public origin
// used in upload links.
func NewService(store Store, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		events:  events.Nop{},
		baseURL: baseURL,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// SetBlobStore configures where uploaded documents are written.
func (s *Service) SetBlobStore(b storage.BlobStore) {
	s.blobs = b
}

// SetNotifier configures immediate notifications. When notifyOnCreate is
// true the client is messaged as part of Create.
func (s *Service) SetNotifier(n Notifier, notifyOnCreate bool) {
	s.notifier = n
	s.notifyOnCreate = notifyOnCreate
}

// SetPublisher configures the lifecycle event sink.
func (s *Service) SetPublisher(p events.Publisher) {
	s.events = p
}

// Create validates and stores a new pending request, caches its upload link,
// and optionally notifies the client. A notification failure does not undo
// the request; it is reported in the result.
func (s *Service) Create(ctx context.Context, in CreateRequest) (*CreateResult, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate upload token: %w", err)
	}

	req := &DocumentRequest{
		ClientName:   in.ClientName,
		ClientPhone:  in.ClientPhone,
		DocumentType: in.DocumentType,
		Deadline:     in.Deadline,
		UploadToken:  token,
		CreatedAt:    s.now(),
	}
	if in.ClientEmail != "" {
		email := in.ClientEmail
		req.ClientEmail = &email
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	link := UploadLink(s.baseURL, token)
	if err := s.store.SetUploadLink(ctx, req.ID, link); err != nil {
		// The link is derivable from the token, so the request stays usable.
		s.logger.Warn("cache upload link", zap.String("request_id", req.ID.String()), zap.Error(err))
	} else {
		req.UploadLink = &link
	}

	s.logger.Info("request created",
		zap.String("request_id", req.ID.String()),
		zap.String("document_type", req.DocumentType),
	)

	deadline := ""
	if req.Deadline != nil {
		deadline = req.Deadline.UTC().Format(time.RFC3339)
	}
	s.events.Publish(ctx, events.RequestCreated, map[string]string{
		"request_id":    req.ID.String(),
		"client_name":   req.ClientName,
		"client_phone":  req.ClientPhone,
		"client_email":  req.Email(),
		"document_type": req.DocumentType,
		"deadline":      deadline,
		"upload_link":   link,
		"upload_token":  token,
	})

	res := &CreateResult{Request: req}
	if s.notifier != nil && s.notifyOnCreate {
		rep, err := s.notifier.NotifyClientOfNewRequest(ctx, notify.ClientNotice{
			ClientName:   req.ClientName,
			ClientPhone:  req.ClientPhone,
			ClientEmail:  req.Email(),
			DocumentType: req.DocumentType,
			UploadLink:   link,
		})
		if err != nil {
			res.NotificationError = err.Error()
		} else {
			res.Notification = rep
		}
	}
	return res, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*DocumentRequest, error) {
	return s.store.GetByID(ctx, id)
}

// List returns requests for the tracker, pending first then newest first.
func (s *Service) List(ctx context.Context, status Status) ([]*DocumentRequest, error) {
	if status != "" && !status.Valid() {
		return nil, &ErrValidation{Msg: fmt.Sprintf("unknown status %q", status)}
	}
	return s.store.List(ctx, status)
}

// StopReminders excludes a pending request from future reminder sweeps.
func (s *Service) StopReminders(ctx context.Context, id uuid.UUID) (*DocumentRequest, error) {
	if err := s.store.StopReminders(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info("reminders stopped", zap.String("request_id", id.String()))
	return s.store.GetByID(ctx, id)
}

// GetPendingByToken resolves an upload token to its pending request. A token
// whose request is no longer pending yields ErrAlreadyUploaded or
// ErrRequestExpired; an unknown token yields ErrNotFound.
func (s *Service) GetPendingByToken(ctx context.Context, token string) (*DocumentRequest, error) {
	req, err := s.store.GetPendingByToken(ctx, token)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return nil, s.explainToken(ctx, token)
}

func (s *Service) explainToken(ctx context.Context, token string) error {
	req, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	switch req.Status {
	case StatusCompleted:
		return ErrAlreadyUploaded
	case StatusExpired:
		return ErrRequestExpired
	default:
		return ErrConflict
	}
}

// Upload stores the client's document, completes the request, and tells the
// broker. Broker notification is best-effort.
func (s *Service) Upload(ctx context.Context, token string, f File) (*UploadResult, error) {
	if s.blobs == nil {
		return nil, ErrStorageNotConfigured
	}
	req, err := s.GetPendingByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	key := storage.ObjectKey(req.ClientName, req.DocumentType, f.Name, now)
	fileURL, err := s.blobs.Put(ctx, key, f.ContentType, f.Body)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	if err := s.store.MarkCompleted(ctx, req.ID, fileURL, now); err != nil {
		// The object is not referenced by any request, so it goes.
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Warn("orphaned upload not removed",
				zap.String("request_id", req.ID.String()),
				zap.String("key", key),
				zap.Error(derr),
			)
		}
		if errors.Is(err, ErrConflict) {
			return nil, s.explainToken(ctx, token)
		}
		return nil, fmt.Errorf("file uploaded but failed to update status: %w", err)
	}
	req.Status = StatusCompleted
	req.FileURL = &fileURL
	req.UploadedAt = &now

	s.logger.Info("document uploaded",
		zap.String("request_id", req.ID.String()),
		zap.String("key", key),
	)
	s.events.Publish(ctx, events.RequestCompleted, map[string]string{
		"request_id":    req.ID.String(),
		"upload_token":  token,
		"file_url":      fileURL,
		"client_name":   req.ClientName,
		"document_type": req.DocumentType,
	})

	res := &UploadResult{Request: req}
	if s.notifier != nil {
		rep, err := s.notifier.NotifyBrokerOfCompletion(ctx, notify.BrokerNotice{
			ClientName:   req.ClientName,
			DocumentType: req.DocumentType,
		})
		switch {
		case errors.Is(err, notify.ErrBrokerNotConfigured):
			s.logger.Debug("broker notification skipped", zap.Error(err))
		case err != nil:
			s.logger.Warn("broker notification failed", zap.Error(err))
		default:
			res.BrokerNotification = rep
		}
	}
	return res, nil
}

// newToken returns a 192-bit random URL-safe token.
func newToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
