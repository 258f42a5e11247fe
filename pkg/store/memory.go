package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is a process-local KV backed by go-cache. It is the default
// backend for short-lived tools and tests.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates a MemoryStore that purges expired keys every minute.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(cache.NoExpiration, time.Minute)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, found := s.cache.Get(key)
	if !found {
		return "", false, nil
	}
	str, ok := v.(string)
	return str, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
