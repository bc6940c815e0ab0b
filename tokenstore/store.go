// Package tokenstore holds the single bearer token that survives restarts.
//
// A store never inspects the token. Absence is the only invalid state; a token
// the server no longer accepts is only discovered when it is used.
package tokenstore

import (
	"context"
	"errors"
	"sync"
)

// DefaultKey is the slot name used by every backend.
const DefaultKey = "accessToken"

// ErrUnavailable wraps backend failures (disabled storage, unreachable server).
var ErrUnavailable = errors.New("tokenstore: storage unavailable")

// Store is a durable key-value slot holding at most one token.
// Read returns "" and a nil error when nothing is stored.
type Store interface {
	Save(ctx context.Context, token string) error
	Read(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

var _ Store = &MemoryStore{}

// MemoryStore keeps the token for the lifetime of the process only.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

func NewMemoryStore(initial string) *MemoryStore {
	return &MemoryStore{token: initial}
}

func (m *MemoryStore) Save(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryStore) Read(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}
