// Package synclock serializes sync runs per integration. A lock is held by a
// random token so only the holder can release it, and expires on its own if
// the holder dies.
package synclock

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = stderrors.New("synclock: already locked")

// Lease is a held lock
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive, expiring leases
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Memory is an in-process Locker
type Memory struct {
	mu   sync.Mutex
	held map[string]memoryHold
	now  func() time.Time
}

type memoryHold struct {
	token     string
	expiresAt time.Time
}

// NewMemory creates an in-process locker
func NewMemory() *Memory {
	return &Memory{held: make(map[string]memoryHold), now: time.Now}
}

var _ Locker = (*Memory)(nil)

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.held[key]; ok && now.Before(h.expiresAt) {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	m.held[key] = memoryHold{token: token, expiresAt: now.Add(ttl)}
	return &memoryLease{m: m, key: key, token: token}, nil
}

type memoryLease struct {
	m     *Memory
	key   string
	token string
}

func (l *memoryLease) Release(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if h, ok := l.m.held[l.key]; ok && h.token == l.token {
		delete(l.m.held, l.key)
	}
	return nil
}
