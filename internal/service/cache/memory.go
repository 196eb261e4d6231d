package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in a map. Expired entries are swept only when
// the map grows past its soft limit.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	maxItems int
}

// NewMemoryStore 创建进程内存储，maxItems <= 0 时默认 10000。
func NewMemoryStore(maxItems int) *MemoryStore {
	if maxItems <= 0 {
		maxItems = 10_000
	}
	return &MemoryStore{entries: make(map[string]*Entry), maxItems: maxItems}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	return entry, nil
}

func (s *MemoryStore) Set(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Key] = entry
	if len(s.entries) > s.maxItems {
		now := time.Now()
		for key, e := range s.entries {
			if now.After(e.ExpiresAt) {
				delete(s.entries, key)
			}
		}
	}
	return nil
}

// Len 返回当前条目数。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
