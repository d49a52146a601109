package postgres

import (
	"context"
	"fmt"

	"sheetarchiver/domain/core"

	"github.com/jmoiron/sqlx"
)

// AdvisoryLock is a session-level pg_try_advisory_lock keyed by resource.
// The lock lives on one pooled connection, held until release.
type AdvisoryLock struct {
	db  *sqlx.DB
	key int64
}

// NewAdvisoryLock creates a lock for resource
func NewAdvisoryLock(db *sqlx.DB, resource string) *AdvisoryLock {
	return &AdvisoryLock{db: db, key: core.LockKey(resource)}
}

// TryAcquire takes the lock without waiting.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (func(), error) {
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowxContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, core.ErrRunInProgress
	}

	return func() {
		// unlock on a fresh context so a cancelled run still releases
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key)
		conn.Close()
	}, nil
}
