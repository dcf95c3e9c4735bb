package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no request matches the lookup.
	ErrNotFound = errors.New("document request not found")

	// ErrConflict is returned when a conditional update matched no row
	// because the request is no longer in the state the caller observed.
	ErrConflict = errors.New("document request changed concurrently")
)

// Store is the persistence contract for document requests. Every mutation is
// conditional on the request still being pending, so the status invariants
// hold under concurrent sweeps and uploads.
type Store interface {
	Create(ctx context.Context, req *DocumentRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*DocumentRequest, error)
	GetByToken(ctx context.Context, token string) (*DocumentRequest, error)
	GetPendingByToken(ctx context.Context, token string) (*DocumentRequest, error)
	List(ctx context.Context, status Status) ([]*DocumentRequest, error)
	ListDue(ctx context.Context) ([]*DocumentRequest, error)
	SetUploadLink(ctx context.Context, id uuid.UUID, link string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, fileURL string, at time.Time) error
	MarkExpired(ctx context.Context, id uuid.UUID) error
	TouchReminder(ctx context.Context, id uuid.UUID, prev *time.Time, at time.Time) error
	StopReminders(ctx context.Context, id uuid.UUID) error
}

const requestColumns = `
	id, broker_id, client_name, client_phone, client_email, document_type,
	created_at, deadline, status, upload_token, upload_link, file_url,
	uploaded_at, last_reminder_at, reminders_stopped`

// PostgresRepository stores document requests in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new pending request. ID and CreatedAt are assigned here
// when unset; UploadToken must already be populated.
func (r *PostgresRepository) Create(ctx context.Context, req *DocumentRequest) error {
	if req.UploadToken == "" {
		return errors.New("upload token is required")
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = StatusPending

	query := `
		INSERT INTO document_requests (
			id, broker_id, client_name, client_phone, client_email,
			document_type, created_at, deadline, status, upload_token,
			upload_link, reminders_stopped
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)`

	_, err := r.db.Exec(ctx, query,
		req.ID, req.BrokerID, req.ClientName, req.ClientPhone, req.ClientEmail,
		req.DocumentType, req.CreatedAt, req.Deadline, string(req.Status), req.UploadToken,
		req.UploadLink,
	)
	if err != nil {
		return fmt.Errorf("insert document request: %w", err)
	}
	return nil
}

// GetByID retrieves a request by its identifier.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*DocumentRequest, error) {
	return r.scanOne(ctx, `SELECT `+requestColumns+` FROM document_requests WHERE id = $1`, id)
}

// GetByToken retrieves a request by upload token regardless of status.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*DocumentRequest, error) {
	return r.scanOne(ctx, `SELECT `+requestColumns+` FROM document_requests WHERE upload_token = $1`, token)
}

// GetPendingByToken retrieves a pending request by upload token.
func (r *PostgresRepository) GetPendingByToken(ctx context.Context, token string) (*DocumentRequest, error) {
	return r.scanOne(ctx, `
		SELECT `+requestColumns+` FROM document_requests
		WHERE upload_token = $1 AND status = 'pending'`, token)
}

// List returns requests for the tracker: pending first, then newest first.
// An empty status lists every request.
func (r *PostgresRepository) List(ctx context.Context, status Status) ([]*DocumentRequest, error) {
	query := `
		SELECT ` + requestColumns + ` FROM document_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY (status = 'pending') DESC, created_at DESC`
	return r.scanMany(ctx, query, string(status))
}

// ListDue returns every pending request whose reminders have not been stopped.
func (r *PostgresRepository) ListDue(ctx context.Context) ([]*DocumentRequest, error) {
	query := `
		SELECT ` + requestColumns + ` FROM document_requests
		WHERE status = 'pending' AND reminders_stopped = false
		ORDER BY created_at`
	return r.scanMany(ctx, query)
}

// SetUploadLink caches the client-facing link on the record.
func (r *PostgresRepository) SetUploadLink(ctx context.Context, id uuid.UUID, link string) error {
	tag, err := r.db.Exec(ctx, `UPDATE document_requests SET upload_link = $2 WHERE id = $1`, id, link)
	if err != nil {
		return fmt.Errorf("set upload link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted records the uploaded file and moves a pending request to completed.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id uuid.UUID, fileURL string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE document_requests
		SET status = 'completed', file_url = $2, uploaded_at = $3
		WHERE id = $1 AND status = 'pending'`, id, fileURL, at)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// MarkExpired moves a pending request to expired.
func (r *PostgresRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE document_requests SET status = 'expired'
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// TouchReminder sets last_reminder_at to at, provided the request is still
// pending and last_reminder_at still equals prev. at never moves the
// timestamp backwards.
func (r *PostgresRepository) TouchReminder(ctx context.Context, id uuid.UUID, prev *time.Time, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE document_requests SET last_reminder_at = $3
		WHERE id = $1
		  AND status = 'pending'
		  AND last_reminder_at IS NOT DISTINCT FROM $2
		  AND ($2::timestamptz IS NULL OR $3 >= $2::timestamptz)`, id, prev, at)
	if err != nil {
		return fmt.Errorf("touch reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// StopReminders flags a pending request so the sweep no longer considers it.
func (r *PostgresRepository) StopReminders(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE document_requests SET reminders_stopped = true
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("stop reminders: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// missOrConflict explains why a conditional update touched nothing.
func (r *PostgresRepository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM document_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check request exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, args ...any) (*DocumentRequest, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (r *PostgresRepository) scanMany(ctx context.Context, query string, args ...any) ([]*DocumentRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DocumentRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*DocumentRequest, error) {
	var req DocumentRequest
	var status string
	err := row.Scan(
		&req.ID, &req.BrokerID, &req.ClientName, &req.ClientPhone, &req.ClientEmail,
		&req.DocumentType, &req.CreatedAt, &req.Deadline, &status, &req.UploadToken,
		&req.UploadLink, &req.FileURL, &req.UploadedAt, &req.LastReminderAt,
		&req.RemindersStopped,
	)
	if err != nil {
		return nil, err
	}
	req.Status = Status(status)
	return &req, nil
}
