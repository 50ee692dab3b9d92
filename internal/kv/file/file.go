// Package file implements domain.KeyValueStore as a single JSON object on
// disk, the closest analogue to a browser profile's local storage.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// Store keeps every key in one JSON document at path. Writes go to a
// temporary file that is renamed over the original.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store rooted at path, creating the parent directory.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("file: create dir %s: %w", dir, err)
		}
	}
	return &Store{path: path}, nil
}

// Get returns the value stored under key, or domain.ErrNotFound when the key
// or the whole file is absent.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readAll()
	if err != nil {
		return "", err
	}
	v, ok := data[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

// Set replaces the value under key and rewrites the file.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readAll()
	if err != nil {
		// A corrupt file must not block new writes; start over.
		data = map[string]string{}
	}
	data[key] = value

	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal %s: %w", s.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp for %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: replace %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) readAll() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("file: read %s: %w", s.path, err)
	}
	data := map[string]string{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("file: parse %s: %w", s.path, err)
	}
	return data, nil
}

// Compile-time interface check.
var _ domain.KeyValueStore = (*Store)(nil)
