// Package memory provides an in-process revocation list using
// github.com/hashicorp/golang-lru/v2. When full, the least recently revoked
// or checked entries are dropped first.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggoodman/mcp-resource-gate/revocation"
)

// DefaultMaxEntries is used when New is given a non-positive size.
const DefaultMaxEntries = 10000

// Store implements revocation.Store in memory.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

var _ revocation.Store = (*Store)(nil)

// New creates a store holding at most maxEntries revoked ids.
func New(maxEntries int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	cache, err := lru.New[string, time.Time](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Store{
		cache: cache,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	// Start background cleanup of expired entries
	go s.cleanupExpired(time.Minute)

	return s, nil
}

// Revoke implements revocation.Store.
func (s *Store) Revoke(ctx context.Context, jti string, until time.Time) error {
	if jti == "" {
		return revocation.ErrEmptyTokenID
	}
	if !until.After(s.now()) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cache.Peek(jti); ok && prev.After(until) {
		return nil
	}
	s.cache.Add(jti, until)
	return nil
}

// IsRevoked implements revocation.Store.
func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.cache.Get(jti)
	if !ok {
		return false, nil
	}
	if !s.now().Before(until) {
		s.cache.Remove(jti)
		return false, nil
	}
	return true, nil
}

// Len reports how many entries are held, including expired ones not yet swept.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Close stops the cleanup goroutine and drops all entries.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// cleanupExpired periodically removes entries whose revocation has lapsed.
func (s *Store) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, key := range s.cache.Keys() {
		if until, ok := s.cache.Peek(key); ok && !now.Before(until) {
			s.cache.Remove(key)
		}
	}
}
