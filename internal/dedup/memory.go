package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/lru"
)

const DefaultCapacity = 10000

// MemorySet is a bounded LRU of ids with an optional expiry
type MemorySet struct {
	mu    sync.Mutex
	cache lru.BasicLRU[string, time.Time]
	ttl   time.Duration
	now   func() time.Time
}

// NewMemorySet creates an in-process set. A ttl of zero keeps entries until evicted.
func NewMemorySet(capacity int, ttl time.Duration) *MemorySet {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemorySet{
		cache: lru.NewBasicLRU[string, time.Time](capacity),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Add inserts id under the lock and reports whether it was absent or expired
func (s *MemorySet) Add(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if added, ok := s.cache.Peek(id); ok && !s.expired(added, now) {
		return false, nil
	}
	s.cache.Add(id, now)
	return true, nil
}

// Contains reports whether id is present and not expired
func (s *MemorySet) Contains(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added, ok := s.cache.Peek(id)
	if !ok {
		return false, nil
	}
	if s.expired(added, s.now()) {
		s.cache.Remove(id)
		return false, nil
	}
	return true, nil
}

// Remove forgets id
func (s *MemorySet) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Remove(id)
	return nil
}

// Len returns the number of stored ids, including expired ones not yet evicted
func (s *MemorySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache.Len()
}

func (s *MemorySet) Close() error {
	return nil
}

func (s *MemorySet) expired(added, now time.Time) bool {
	return s.ttl > 0 && now.Sub(added) >= s.ttl
}
