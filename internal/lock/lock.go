package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cleared-dev/basis/internal/id"
)

// ErrNotHeld is returned when releasing a lease that is no longer owned.
var ErrNotHeld = errors.New("lock not held")

// DefaultPollInterval is how often a blocked Acquire retries.
const DefaultPollInterval = 250 * time.Millisecond

// Lease is a held lock. A lease past its Expires time may be taken over.
type Lease struct {
	Name    string
	Owner   string
	Expires time.Time
}

// Locker grants named advisory locks with a time to live.
type Locker interface {
	// Acquire blocks until the lock is free, stale, or ctx is done.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, lease Lease) error
}

// With runs fn while holding the named lock and always releases it.
func With(ctx context.Context, l Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	lease, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	defer func() {
		// Release with a fresh context so a cancelled run still unlocks.
		if rerr := l.Release(context.WithoutCancel(ctx), lease); rerr != nil && err == nil {
			err = fmt.Errorf("releasing lock %s: %w", name, rerr)
		}
	}()
	return fn(ctx)
}

// TryFunc attempts to take a lock once, reporting whether it succeeded.
type TryFunc func(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error)

// Poll calls try until it succeeds or ctx is done.
func Poll(ctx context.Context, name string, ttl, interval time.Duration, now func() time.Time, try TryFunc) (Lease, error) {
	owner := id.NewToken()
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t := now()
		ok, err := try(ctx, name, owner, ttl, t)
		if err != nil {
			return Lease{}, err
		}
		if ok {
			return Lease{Name: name, Owner: owner, Expires: t.Add(ttl)}, nil
		}
		select {
		case <-ctx.Done():
			return Lease{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Memory is an in-process Locker.
type Memory struct {
	mu           sync.Mutex
	held         map[string]Lease
	PollInterval time.Duration
	Now          func() time.Time
}

// NewMemory creates an empty in-process Locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]Lease), Now: time.Now}
}

// Acquire implements Locker.
func (m *Memory) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	return Poll(ctx, name, ttl, m.PollInterval, m.Now, m.try)
}

func (m *Memory) try(_ context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.held[name]; ok && now.Before(cur.Expires) {
		return false, nil
	}
	m.held[name] = Lease{Name: name, Owner: owner, Expires: now.Add(ttl)}
	return true, nil
}

// Release implements Locker.
func (m *Memory) Release(_ context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.held[lease.Name]
	if !ok || cur.Owner != lease.Owner {
		return ErrNotHeld
	}
	delete(m.held, lease.Name)
	return nil
}

// UserLock names the lock guarding one user's recompute.
func UserLock(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}
