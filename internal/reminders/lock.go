package reminders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Locker serializes sweeps across processes. TryLock reports false without
// error when another holder owns the lock.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

// NoopLocker always grants the lock. Use it with a single-process store.
type NoopLocker struct{}

// TryLock implements Locker.
func (NoopLocker) TryLock(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// PostgresLocker holds a session-level advisory lock on a dedicated pool
// connection for the duration of a sweep.
type PostgresLocker struct {
	db  *pgxpool.Pool
	key int64
}

// NewPostgresLocker creates a PostgresLocker for the given lock key.
func NewPostgresLocker(db *pgxpool.Pool, key int64) *PostgresLocker {
	return &PostgresLocker{db: db, key: key}
}

// TryLock implements Locker.
func (l *PostgresLocker) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		// The sweep context may be done by now.
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
			// Drop the connection so the session, and its lock, ends.
			conn.Conn().Close(context.Background()) //nolint:errcheck
		}
		conn.Release()
	}
	return unlock, true, nil
}
