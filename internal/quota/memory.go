package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the counter store used when no Redis address is
// configured. Counters survive only as long as the process; expiry is
// lazy, checked on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	clock   func() time.Time
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		clock:   time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	e, ok := s.entries[key]
	if !ok || now.After(e.expiresAt) {
		e = &memoryEntry{expiresAt: now.Add(ttl)}
		s.entries[key] = e
	}
	e.count++
	return e.count, nil
}

func (s *MemoryStore) Decr(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.count > 0 {
		e.count--
	}
	return nil
}
