package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cleared-dev/basis/internal/lock"
)

// Locker grants advisory locks stored in the locks table, so separate
// processes sharing one database exclude each other.
type Locker struct {
	db           *DB
	PollInterval time.Duration
	Now          func() time.Time
}

// Locker returns a lock.Locker backed by db.
func (db *DB) Locker() *Locker {
	return &Locker{db: db, Now: time.Now}
}

// Acquire implements lock.Locker.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Lease, error) {
	lease, err := lock.Poll(ctx, name, ttl, l.PollInterval, l.Now, l.try)
	if err != nil {
		return lease, err
	}
	l.db.logger.Debug("lock acquired", "name", name, "owner", lease.Owner)
	return lease, nil
}

// try inserts the lock row, or takes it over once the held lease expired.
func (l *Locker) try(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	res, err := l.db.db.ExecContext(ctx, `
		INSERT INTO locks (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE locks.expires_at <= ?`,
		name, owner, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("taking lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Release implements lock.Locker.
func (l *Locker) Release(ctx context.Context, lease lock.Lease) error {
	res, err := l.db.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ? AND owner = ?`, lease.Name, lease.Owner)
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", lease.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lock.ErrNotHeld
	}
	return nil
}
