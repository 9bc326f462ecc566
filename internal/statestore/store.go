// Package statestore keeps pending OAuth authorizations between the redirect
// and the callback. Entries are single use: Take removes what it returns.
package statestore

import (
	"context"
	stderrors "errors"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown, expired or already consumed states.
var ErrNotFound = stderrors.New("statestore: state not found")

// Entry is the server side half of an authorization state
type Entry struct {
	UserID        int64  `json:"uid"`
	Vendor        string `json:"vendor"`
	IntegrationID int64  `json:"iid"`
	// Verifier is the PKCE code verifier sent with the code exchange.
	Verifier string `json:"verifier"`
}

// Store holds pending states keyed by the state token id
type Store interface {
	Put(ctx context.Context, id string, e Entry, ttl time.Duration) error
	Take(ctx context.Context, id string) (*Entry, error)
}

// Memory is an in-process Store for single instance deployments and tests
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Put(_ context.Context, id string, e Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, v := range m.entries {
		if !now.Before(v.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.entries[id] = memoryEntry{entry: e, expiresAt: now.Add(ttl)}
	return nil
}

func (m *Memory) Take(_ context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.entries, id)
	if !m.now().Before(v.expiresAt) {
		return nil, ErrNotFound
	}
	e := v.entry
	return &e, nil
}
