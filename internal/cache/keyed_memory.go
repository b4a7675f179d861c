package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	counter   int64
	expiresAt time.Time
}

// MemoryKeyedStore is the dev/test fallback used when redis is not
// configured. Expired entries are dropped lazily on access.
type MemoryKeyedStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryKeyedStore() *MemoryKeyedStore {
	return &MemoryKeyedStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryKeyedStore) SetValue(_ context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: value, expiresAt: expiry(ttl)}
	return nil
}

func (s *MemoryKeyedStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if entry.expired() {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryKeyedStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired() {
		entry = memoryEntry{expiresAt: expiry(ttl)}
	}
	entry.counter++
	s.entries[key] = entry
	return entry.counter, nil
}

func (s *MemoryKeyedStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (e memoryEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
