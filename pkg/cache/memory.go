package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ryanuber/go-glob"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expired entries are invisible and are
// evicted lazily on access.
type MemoryStore struct {
	mutex   sync.RWMutex
	entries map[string]memoryEntry

	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]memoryEntry{},
		Now:     time.Now,
	}
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.Now().Add(ttl)
	}
	s.entries[key] = entry

	return nil
}

func (s *MemoryStore) expired(entry memoryEntry, now time.Time) bool {
	return !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return nil, ErrNotFound
	}
	if s.expired(entry, s.Now()) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}

	return append([]byte(nil), entry.value...), nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.Now()
	var keys []string

	for key, entry := range s.entries {
		if s.expired(entry, now) {
			delete(s.entries, key)
			continue
		}

		// Like redis, * also spans '/' which vehicle ids may contain
		if glob.Glob(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Put is used by tests to seed raw values, including ones that are not valid envelopes.
func (s *MemoryStore) Put(key string, value []byte, ttl time.Duration) {
	_ = s.Set(context.Background(), key, value, ttl)
}
