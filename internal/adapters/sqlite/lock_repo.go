package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/example/ecs-manage/internal/core/failure"
)

// LockRepository implements secondary.ServiceLocker with SQLite. It
// serializes invocations sharing one database file.
type LockRepository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewLockRepository creates a new SQLite lock repository.
func NewLockRepository(db *sql.DB, clk clock.Clock) *LockRepository {
	return &LockRepository{db: db, clock: clk}
}

// Acquire takes the lock for key. An expired lock is taken over; a live
// lock held by another owner fails with failure.KindLocked.
func (r *LockRepository) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	now := r.clock.Now()
	expires := now.Add(ttl).UnixMilli()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO service_locks (key, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE service_locks.owner = excluded.owner OR service_locks.expires_at <= ?`,
		key, owner, expires, now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		var holder string
		err := r.db.QueryRowContext(ctx, `SELECT owner FROM service_locks WHERE key = ?`, key).Scan(&holder)
		if err != nil {
			holder = "another invocation"
		}
		return failure.New(failure.KindLocked, "%s is held by %s", key, holder)
	}

	return nil
}

// Release drops the lock if owner still holds it.
func (r *LockRepository) Release(ctx context.Context, key, owner string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM service_locks WHERE key = ? AND owner = ?`, key, owner)
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}
