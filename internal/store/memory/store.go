// Package memory provides an in-process fleet.MetricsStore for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Store is a mutex-guarded map with the same semantics as the Redis store.
type Store struct {
	mu     sync.Mutex
	data   map[string]string
	closed bool
}

var errClosed = errors.New("store closed")

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Get returns the value for key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, errClosed
	}
	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.data[key] = value
	return nil
}

// SetNX stores value only if key is absent.
func (s *Store) SetNX(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value
	return true, nil
}

// Incr atomically increments the integer at key, treating a missing key as 0.
func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	var n int64
	if raw, ok := s.data[key]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value is not an integer or out of range: %w", err)
		}
		n = parsed
	}
	n++
	s.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}

// MSet writes all values atomically.
func (s *Store) MSet(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	for k, v := range values {
		s.data[k] = v
	}
	return nil
}

// SetIfEqual writes values only while guardKey holds want.
func (s *Store) SetIfEqual(_ context.Context, guardKey, want string, values map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}
	if s.data[guardKey] != want {
		return false, nil
	}
	for k, v := range values {
		s.data[k] = v
	}
	return true, nil
}

// Del removes keys.
func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close makes every later call fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
