// Package securestore holds the durable key-value backends the session
// record is written to.
package securestore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrInvalidKey is returned for empty or path-like keys.
	ErrInvalidKey = errors.New("securestore: invalid key")
	// ErrCorrupt is returned when a stored value exists but cannot be read
	// back, e.g. a truncated or tampered sealed file or a changed passphrase.
	ErrCorrupt = errors.New("securestore: stored value is corrupt")
)

// Store is a small durable key-value store. Get returns (nil, nil) when the
// key is absent and Delete of an absent key is not an error. Values are
// always replaced whole.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return ErrInvalidKey
	}
	return nil
}

// MemoryStore keeps values in process memory. Used by tests and by the
// "memory" backend for throwaway sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	store map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{store: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.store[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}
