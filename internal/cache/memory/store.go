// Package memory stores cached page content in-process for development and tests.
package memory

import (
	"context"
	"sync"
	"time"
)

type nowFunc func() time.Time

type entry struct {
	content []byte
	expires time.Time
}

// Store is a TTL map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     nowFunc
}

// Option customizes a Store.
type Option func(*Store)

// WithNow overrides the time source used for expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the content stored under key if it has not expired.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expires) {
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur.expires.Equal(e.expires) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.content...), true, nil
}

// Put stores a copy of content for ttl. A non-positive ttl removes the key.
func (s *Store) Put(_ context.Context, key string, content []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = entry{
		content: append([]byte(nil), content...),
		expires: s.now().Add(ttl),
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
