// Package lock serializes redirected mounts across processes.
package lock

import (
	"context"
	"time"
)

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// WithLock acquires the lock, calls fn, and releases the lock.
// If fn returns an error, the lock is still released.
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return fn()
}

// WithTimeout bounds every Lock call of l by d.
func WithTimeout(l Locker, d time.Duration) Locker {
	return &timeoutLocker{Locker: l, timeout: d}
}

type timeoutLocker struct {
	Locker
	timeout time.Duration
}

func (l *timeoutLocker) Lock(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.Locker.Lock(ctx)
}
