// Package kv abstracts the durable key-value store holding base identity key
// material, keyed by principal text.
package kv

import (
	"context"
	"sync"
)

// Store is the persistence contract for identity key material. Single-key
// read/write atomicity is required; cross-key transactions are not.
type Store interface {
	Read(ctx context.Context, key string) (string, bool, error)
	Write(ctx context.Context, key, value string) error
	Ping(ctx context.Context) error
}

// MemoryStore keeps values in-memory. It is safe for concurrent use and
// intended for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	writes int
}

// NewMemoryStore constructs an in-memory store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Read returns the value stored under key, when present.
func (s *MemoryStore) Read(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	value, ok := s.values[key]
	s.mu.RUnlock()
	return value, ok, nil
}

// Write stores value under key, replacing any previous value.
func (s *MemoryStore) Write(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.writes++
	s.mu.Unlock()
	return nil
}

// Ping always reports success for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Writes reports how many writes the store has accepted. Tests use it to
// assert idempotency of the anonymous bootstrap path.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Len reports the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
