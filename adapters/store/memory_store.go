package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/meridian-labs/cerberus/core"
	"github.com/meridian-labs/cerberus/ports"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is an in-memory implementation of the Store interface.
// All operations take a single mutex, which gives the same per-key
// atomicity guarantees as the scripted Redis implementation. Intended for
// tests and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	windows map[string]window
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		windows: make(map[string]window),
	}
}

var _ ports.Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return "", core.ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	delete(s.windows, key)
	return nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, key, prev, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok || e.value != prev {
		return false, nil
	}
	e.value = next
	s.entries[key] = e
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, prev string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok || e.value != prev {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, windowDur time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.liveWindow(key)
	if w.count == 0 {
		w.resetAt = time.Now().Add(windowDur)
	}
	w.count++
	s.windows[key] = w
	return w.count, nil
}

func (s *MemoryStore) Allow(ctx context.Context, key string, limit int64, windowDur time.Duration) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.liveWindow(key)
	if w.count >= limit {
		return false, time.Until(w.resetAt), nil
	}
	if w.count == 0 {
		w.resetAt = time.Now().Add(windowDur)
	}
	w.count++
	s.windows[key] = w
	return true, time.Until(w.resetAt), nil
}

func (s *MemoryStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.entries {
		if _, ok := s.live(k); ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// live returns the entry at key, dropping it if expired. Callers must hold
// the mutex.
func (s *MemoryStore) live(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *MemoryStore) liveWindow(key string) window {
	w, ok := s.windows[key]
	if !ok || time.Now().After(w.resetAt) {
		return window{}
	}
	return w
}
