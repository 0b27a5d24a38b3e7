package cache

import (
	"context"
	"sort"
	"sync"

	"bbcompare/internal/domain"
)

// MemoryStore holds entries for the life of the process. Useful for tests
// and for running the server without any persistence configured.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[Key]domain.CacheEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[Key]domain.CacheEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (domain.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rows[normalizeKey(key)]
	return entry, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, entry domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[normalizeKey(Key{Postcode: entry.Postcode, Provider: entry.Provider})] = entry
	return nil
}

func (s *MemoryStore) List(_ context.Context, postcode string) ([]domain.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CacheEntry
	for key, entry := range s.rows {
		if key.Postcode == postcode {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
