package handoff

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	payload []byte
	expires time.Time
}

// MemoryStore is the single-process fallback used when Redis is not
// configured. Expired entries are swept on every Create.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memEntry{}, now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, payload []byte, ttl time.Duration) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}
	cp := append([]byte(nil), payload...)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[id] = memEntry{payload: cp, expires: now.Add(normalizeTTL(ttl))}
	return id, nil
}

func (s *MemoryStore) Redeem(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, id)
	if !s.now().Before(e.expires) {
		return nil, ErrNotFound
	}
	return e.payload, nil
}

// Len reports the number of parked entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
