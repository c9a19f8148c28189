package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// schemaLockKey identifies pricing schema migrations among other users of
// the same Postgres cluster.
const schemaLockKey int64 = 0x70726963696e67 // "pricing"

const lockPollInterval = 250 * time.Millisecond

// schemaLock is a session-level advisory lock. Postgres ties the lock to a
// connection, so both lock and unlock run on one pinned *sql.Conn.
type schemaLock struct {
	conn *sql.Conn
}

// lockSchema waits until the lock is free or ctx is done. Replicas starting
// together queue behind the first one instead of failing.
func lockSchema(ctx context.Context, db *sql.DB) (*schemaLock, error) {
	if db == nil {
		return nil, errors.New("schema lock requires database handle")
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pin connection for schema lock: %w", err)
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		var locked bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", schemaLockKey).Scan(&locked); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("acquire schema lock: %w", err)
		}
		if locked {
			return &schemaLock{conn: conn}, nil
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, fmt.Errorf("acquire schema lock: another migration is running: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release unlocks and returns the pinned connection to the pool.
func (l *schemaLock) Release(ctx context.Context) error {
	defer l.conn.Close()

	var released bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", schemaLockKey).Scan(&released); err != nil {
		return fmt.Errorf("release schema lock: %w", err)
	}
	if !released {
		return errors.New("schema lock was not held by this session")
	}
	return nil
}
