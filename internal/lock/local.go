package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/salestax/internal/clock"
)

type localEntry struct {
	token     string
	expiresAt time.Time
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	clock clock.Clock
	held  map[string]localEntry
}

func NewLocalLocker(c clock.Clock) *LocalLocker {
	if c == nil {
		c = clock.New()
	}
	return &LocalLocker{clock: c, held: make(map[string]localEntry)}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if entry, ok := l.held[key]; ok && now.Before(entry.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *LocalLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.held[key]; ok && entry.token == token {
		delete(l.held, key)
	}
	return nil
}

var _ Locker = (*LocalLocker)(nil)
