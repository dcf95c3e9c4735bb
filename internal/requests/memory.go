package requests

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development and tests. It applies
// the same conditional-update rules as PostgresRepository.
type MemoryStore struct {
	mu      sync.RWMutex
	rows    map[uuid.UUID]*DocumentRequest
	byToken map[string]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:    make(map[uuid.UUID]*DocumentRequest),
		byToken: make(map[string]uuid.UUID),
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, req *DocumentRequest) error {
	if req.UploadToken == "" {
		return errors.New("upload token is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byToken[req.UploadToken]; dup {
		return errors.New("duplicate upload token")
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = StatusPending
	req.RemindersStopped = false

	m.rows[req.ID] = clone(req)
	m.byToken[req.UploadToken] = req.ID
	return nil
}

// GetByID implements Store.
func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*DocumentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(row), nil
}

// GetByToken implements Store.
func (m *MemoryStore) GetByToken(_ context.Context, token string) (*DocumentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.rows[id]), nil
}

// GetPendingByToken implements Store.
func (m *MemoryStore) GetPendingByToken(ctx context.Context, token string) (*DocumentRequest, error) {
	req, err := m.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ErrNotFound
	}
	return req, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, status Status) ([]*DocumentRequest, error) {
	m.mu.RLock()
	out := make([]*DocumentRequest, 0, len(m.rows))
	for _, row := range m.rows {
		if status == "" || row.Status == status {
			out = append(out, clone(row))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Status == StatusPending, out[j].Status == StatusPending
		if pi != pj {
			return pi
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListDue implements Store.
func (m *MemoryStore) ListDue(_ context.Context) ([]*DocumentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*DocumentRequest
	for _, row := range m.rows {
		if row.Status == StatusPending && !row.RemindersStopped {
			out = append(out, clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SetUploadLink implements Store.
func (m *MemoryStore) SetUploadLink(_ context.Context, id uuid.UUID, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	row.UploadLink = &link
	return nil
}

// MarkCompleted implements Store.
func (m *MemoryStore) MarkCompleted(_ context.Context, id uuid.UUID, fileURL string, at time.Time) error {
	return m.updatePending(id, func(row *DocumentRequest) bool {
		row.Status = StatusCompleted
		row.FileURL = &fileURL
		row.UploadedAt = &at
		return true
	})
}

// MarkExpired implements Store.
func (m *MemoryStore) MarkExpired(_ context.Context, id uuid.UUID) error {
	return m.updatePending(id, func(row *DocumentRequest) bool {
		row.Status = StatusExpired
		return true
	})
}

// TouchReminder implements Store.
func (m *MemoryStore) TouchReminder(_ context.Context, id uuid.UUID, prev *time.Time, at time.Time) error {
	return m.updatePending(id, func(row *DocumentRequest) bool {
		if !sameTime(row.LastReminderAt, prev) {
			return false
		}
		if prev != nil && at.Before(*prev) {
			return false
		}
		row.LastReminderAt = &at
		return true
	})
}

// StopReminders implements Store.
func (m *MemoryStore) StopReminders(_ context.Context, id uuid.UUID) error {
	return m.updatePending(id, func(row *DocumentRequest) bool {
		row.RemindersStopped = true
		return true
	})
}

// updatePending applies fn to a pending row under the write lock. fn
// returning false reports a failed precondition.
func (m *MemoryStore) updatePending(id uuid.UUID, fn func(*DocumentRequest) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != StatusPending {
		return ErrConflict
	}
	next := clone(row)
	if !fn(next) {
		return ErrConflict
	}
	m.rows[id] = next
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func clone(r *DocumentRequest) *DocumentRequest {
	cp := *r
	cp.BrokerID = clonePtr(r.BrokerID)
	cp.ClientEmail = clonePtr(r.ClientEmail)
	cp.Deadline = clonePtr(r.Deadline)
	cp.UploadLink = clonePtr(r.UploadLink)
	cp.FileURL = clonePtr(r.FileURL)
	cp.UploadedAt = clonePtr(r.UploadedAt)
	cp.LastReminderAt = clonePtr(r.LastReminderAt)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
