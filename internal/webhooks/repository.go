package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeliveryLog persists delivery attempts for operators to inspect.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, limit int) ([]*Delivery, error)
}

// Repository stores delivery attempts in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new webhook Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// RecordDelivery records a webhook delivery attempt.
func (r *Repository) RecordDelivery(ctx context.Context, d *Delivery) error {
	stamp(d)
	query := `INSERT INTO webhook_deliveries (id, url, event_type, request_id, status_code, attempt, success, error_message, delivered_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, query,
		d.ID, d.URL, d.EventType, d.RequestID,
		d.StatusCode, d.Attempt, d.Success, d.ErrorMessage, d.DeliveredAt,
	)
	return err
}

// ListDeliveries returns the most recent attempts, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, url, event_type, request_id, status_code, attempt, success, error_message, delivered_at
	          FROM webhook_deliveries ORDER BY delivered_at DESC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.URL, &d.EventType, &d.RequestID, &d.StatusCode, &d.Attempt, &d.Success, &d.ErrorMessage, &d.DeliveredAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// MemoryLog keeps the most recent attempts in memory.
type MemoryLog struct {
	mu       sync.Mutex
	capacity int
	items    []*Delivery
}

// NewMemoryLog creates a MemoryLog holding at most capacity attempts.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = 200
	}
	return &MemoryLog{capacity: capacity}
}

// RecordDelivery implements DeliveryLog.
func (m *MemoryLog) RecordDelivery(_ context.Context, d *Delivery) error {
	stamp(d)
	cp := *d
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, &cp)
	if len(m.items) > m.capacity {
		m.items = m.items[len(m.items)-m.capacity:]
	}
	return nil
}

// ListDeliveries implements DeliveryLog.
func (m *MemoryLog) ListDeliveries(_ context.Context, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Delivery, 0, limit)
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.items[i]
		out = append(out, &cp)
	}
	return out, nil
}

func stamp(d *Delivery) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now().UTC()
	}
}
