// Package lock serializes work on a single order across requests and
// processes.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLockHeld       = errors.New("lock_held")
	ErrInvalidLockKey = errors.New("invalid_lock_key")
	ErrInvalidLockTTL = errors.New("invalid_lock_ttl")
)

// Locker hands out expiring, token-guarded locks. Release is a no-op unless
// the token still owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// OrderKey is the lock key guarding tax writes for one order.
func OrderKey(orderID string) string {
	return "salestax:order:" + orderID
}

// WithLock runs fn while holding key. It returns ErrLockHeld without running
// fn when another holder owns the key.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	defer func() {
		_ = l.Release(context.WithoutCancel(ctx), key, token)
	}()
	return fn(ctx)
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidLockKey
	}
	if ttl <= 0 {
		return ErrInvalidLockTTL
	}
	return nil
}
