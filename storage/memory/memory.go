// Package memory provides an in-process implementation of storage.Store
// using github.com/hashicorp/golang-lru/v2. Records are lost on restart and
// are not shared between instances; use it for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/extendhq/extend-mcp-server-go/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems bounds the cache when New is given a non-positive size.
const DefaultMaxItems = 10000

// Store keeps records of type R in a bounded LRU cache. When the cache is
// full the least recently used record is evicted.
type Store[R storage.Record] struct {
	mu    sync.Mutex
	cache *lru.Cache[string, R]
	opts  storage.Options
}

// New creates an in-memory store holding at most maxItems records.
func New[R storage.Record](maxItems int, opts ...storage.Option) (*Store[R], error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, R](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Store[R]{cache: cache, opts: storage.ApplyOptions(opts...)}, nil
}

func (s *Store[R]) Store(ctx context.Context, rec R) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(rec.StoreKey(), rec)
	return nil
}

func (s *Store[R]) Get(ctx context.Context, key string) (R, bool, error) {
	return storage.GetFromLookup(s.Lookup(ctx, key))
}

func (s *Store[R]) Lookup(ctx context.Context, key string) (R, storage.Status, error) {
	var zero R

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.cache.Get(key)
	if !ok {
		return zero, storage.Absent, nil
	}
	if storage.IsExpired(rec, s.opts.Clock()) {
		s.cache.Remove(key)
		return rec, storage.Expired, nil
	}
	return rec, storage.Present, nil
}

func (s *Store[R]) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Remove(key), nil
}

func (s *Store[R]) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock()
	removed := 0
	for _, key := range s.cache.Keys() {
		rec, ok := s.cache.Peek(key)
		if ok && storage.IsExpired(rec, now) {
			s.cache.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of records currently held, expired or not.
func (s *Store[R]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Close clears all stored data
func (s *Store[R]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	return nil
}
