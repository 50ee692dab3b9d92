// Package memory implements domain.KeyValueStore in process memory. Nothing
// survives a restart; it backs tests and throwaway runs.
package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// Store is a goroutine-safe map-backed key-value store.
type Store struct {
	mu   sync.RWMutex
	data map[string]string

	// GetErr and SetErr, when non-nil, are returned by every Get or Set to
	// simulate unavailable or full storage.
	GetErr error
	SetErr error
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Get returns the value for key or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.GetErr != nil {
		return "", s.GetErr
	}
	v, ok := s.data[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

// Set stores value under key, replacing any prior value.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.data[key] = value
	return nil
}

// Compile-time interface check.
var _ domain.KeyValueStore = (*Store)(nil)
